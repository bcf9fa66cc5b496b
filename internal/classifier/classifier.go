// Package classifier scores device-health inputs into a failure-risk class.
//
// A Model is loaded once at startup (from MODEL_PATH or the embedded default)
// and is immutable afterwards, so one value is shared by every request
// without locking. There is nothing to tear down.
package classifier

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

//go:embed default_model.json
var defaultModel []byte

type Rule struct {
	Feature   string  `json:"feature"`
	Op        string  `json:"op"` // lt | gt | scale
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
	// Group: only the first matching rule of a group scores.
	Group string `json:"group,omitempty"`
}

type Model struct {
	Version   string    `json:"version"`
	Labels    []string  `json:"labels"`
	Features  []string  `json:"features"`
	Rules     []Rule    `json:"rules"`
	CutPoints []float64 `json:"cut_points"`

	index map[string]int
}

type Prediction struct {
	Label         string    `json:"label"`
	Class         int       `json:"class"`
	Probabilities []float64 `json:"probabilities"`
	Score         float64   `json:"score"`
	ModelVersion  string    `json:"model_version"`
}

// Load reads a model file; an empty path selects the embedded default.
func Load(path string) (*Model, error) {
	b := defaultModel
	if path != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read model: %w", err)
		}
	}
	return Parse(b)
}

func Parse(b []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) init() error {
	if len(m.Features) == 0 {
		return errors.New("model has no features")
	}
	if len(m.Labels) != len(m.CutPoints)+1 {
		return fmt.Errorf("model has %d labels for %d cut points", len(m.Labels), len(m.CutPoints))
	}
	for i := 1; i < len(m.CutPoints); i++ {
		if m.CutPoints[i] < m.CutPoints[i-1] {
			return errors.New("cut points must be ascending")
		}
	}
	m.index = make(map[string]int, len(m.Features))
	for i, f := range m.Features {
		m.index[f] = i
	}
	for _, r := range m.Rules {
		if _, ok := m.index[r.Feature]; !ok {
			return fmt.Errorf("rule references unknown feature %q", r.Feature)
		}
		switch r.Op {
		case "lt", "gt", "scale":
		default:
			return fmt.Errorf("rule on %q has unknown op %q", r.Feature, r.Op)
		}
	}
	return nil
}

// Vector lays the payload out in feature order. Missing or unparseable
// values become 0.
func (m *Model) Vector(payload map[string]any) []float64 {
	row := make([]float64, len(m.Features))
	for i, f := range m.Features {
		row[i] = coerce(payload[f])
	}
	return row
}

func (m *Model) Predict(payload map[string]any) Prediction {
	row := m.Vector(payload)

	var score float64
	fired := map[string]bool{}
	for _, r := range m.Rules {
		if r.Group != "" && fired[r.Group] {
			continue
		}
		v := row[m.index[r.Feature]]
		var hit bool
		switch r.Op {
		case "lt":
			hit = v < r.Threshold
			if hit {
				score += r.Weight
			}
		case "gt":
			hit = v > r.Threshold
			if hit {
				score += r.Weight
			}
		case "scale":
			score += r.Weight * v
			hit = v != 0
		}
		if hit && r.Group != "" {
			fired[r.Group] = true
		}
	}

	class := len(m.CutPoints)
	for i, cut := range m.CutPoints {
		if score <= cut {
			class = i
			break
		}
	}
	// rule scoring has no calibrated probabilities; report the class one-hot
	proba := make([]float64, len(m.Labels))
	proba[class] = 1
	return Prediction{
		Label:         m.Labels[class],
		Class:         class,
		Probabilities: proba,
		Score:         score,
		ModelVersion:  m.Version,
	}
}

func coerce(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
		switch strings.ToLower(s) {
		case "true", "yes":
			return 1
		case "false", "no":
			return 0
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	return 0
}
