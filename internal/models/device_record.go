package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/baharkarakas/phonehealth-backend/internal/validate"
)

// DeviceRecord is the persisted smartphone-health survey.
type DeviceRecord struct {
	ID        string `json:"id"`
	UserEmail string `json:"user_email,omitempty"`

	// device
	Brand     Text `json:"brand"`
	Model     Text `json:"model"`
	OS        Text `json:"os"`
	DeviceAge Text `json:"device_age"`

	// battery
	BatteryCycleCount Text `json:"battery_cycle_count"`
	BatteryHealth     Text `json:"battery_health"`
	FastCharging      Text `json:"fast_charging"`
	ChargesOvernight  Text `json:"charges_overnight"`

	// storage and ram
	StorageCapacity Text `json:"storage_capacity"`
	RAMCapacity     Text `json:"ram_capacity"`
	StorageUsage    Text `json:"storage_usage"`
	RAMUsage        Text `json:"ram_usage"`

	// repair history
	PreviousRepairs   List `json:"previous_repairs"`
	LastRepairDate    Text `json:"last_repair_date"`
	AuthorizedService Text `json:"authorized_service"`
	WarrantyStatus    Text `json:"warranty_status"`

	// hardware condition
	Overheating       Flag `json:"overheating"`
	DropHistory       Flag `json:"drop_history"`
	WaterDamage       Flag `json:"water_damage"`
	SensorIssues      Flag `json:"sensor_issues"`
	BatteryBulging    Flag `json:"battery_bulging"`
	ScreenCracked     Flag `json:"screen_cracked"`
	ButtonsNotWorking Flag `json:"buttons_not_working"`

	// usage behaviour
	ScreenTime      Text `json:"screen_time"`
	ChargeFrequency Text `json:"charge_frequency"`
	ChargeTime      Text `json:"charge_time"`
	Environment     Text `json:"environment"`
	RegionTemp      Text `json:"region_temp"`
	UpdatedSoftware Text `json:"updated_software"`
	Rooted          Text `json:"rooted"`

	PrimaryUse   List `json:"primary_use"`
	MajorConcern Text `json:"major_concern"`

	MLPrediction *string   `json:"ml_prediction,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Text is a string column that also accepts JSON numbers and booleans,
// since survey front-ends are inconsistent about quoting.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = Text(v)
		return nil
	}
	if s == "true" || s == "false" {
		*t = Text(s)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		*t = Text(s)
		return nil
	}
	return fmt.Errorf("expected string, number or boolean, got %s", s)
}

// Flag is a boolean column tolerant of "yes"/"1"/"true" style inputs.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.ToLower(strings.TrimSpace(string(b))), `"`)
	switch s {
	case "true", "yes", "y", "1", "on":
		*f = true
	case "false", "no", "n", "0", "off", "", "null":
		*f = false
	default:
		return fmt.Errorf("expected boolean, got %s", string(b))
	}
	return nil
}

// List is a JSON array column; a comma separated string is split.
type List []string

func (l *List) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*l = List{}
		return nil
	case strings.HasPrefix(s, "["):
		var raw []any
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(List, 0, len(raw))
		for _, v := range raw {
			out = append(out, fmt.Sprint(v))
		}
		*l = out
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		out := List{}
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*l = out
		return nil
	}
	return fmt.Errorf("expected list, got %s", s)
}

// DeviceRecordFromPayload decodes a staged form payload into a record.
// camelCase keys (deviceAge) are accepted alongside snake_case ones, and
// fallbackEmail is used when the payload carries no email of its own.
func DeviceRecordFromPayload(payload map[string]any, fallbackEmail string) (DeviceRecord, error) {
	norm := make(map[string]any, len(payload))
	for k, v := range payload {
		norm[snakeCase(k)] = v
	}
	if _, ok := norm["user_email"]; !ok {
		if v, ok := norm["email"]; ok {
			norm["user_email"] = v
		}
	}

	b, err := json.Marshal(norm)
	if err != nil {
		return DeviceRecord{}, err
	}
	var rec DeviceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return DeviceRecord{}, validate.Errs{{Field: "form_data", Msg: err.Error()}}
	}
	rec.ID = ""
	rec.MLPrediction = nil
	rec.CreatedAt = time.Time{}
	if strings.TrimSpace(rec.UserEmail) == "" {
		rec.UserEmail = fallbackEmail
	}
	return rec, nil
}

var deviceTextLimits = []struct {
	field    string
	get      func(*DeviceRecord) Text
	max      int
	required bool
}{
	{"brand", func(r *DeviceRecord) Text { return r.Brand }, 100, true},
	{"model", func(r *DeviceRecord) Text { return r.Model }, 100, true},
	{"os", func(r *DeviceRecord) Text { return r.OS }, 100, true},
	{"device_age", func(r *DeviceRecord) Text { return r.DeviceAge }, 20, true},
	{"battery_cycle_count", func(r *DeviceRecord) Text { return r.BatteryCycleCount }, 10, true},
	{"battery_health", func(r *DeviceRecord) Text { return r.BatteryHealth }, 10, true},
	{"fast_charging", func(r *DeviceRecord) Text { return r.FastCharging }, 10, true},
	{"charges_overnight", func(r *DeviceRecord) Text { return r.ChargesOvernight }, 10, true},
	{"storage_capacity", func(r *DeviceRecord) Text { return r.StorageCapacity }, 100, true},
	{"ram_capacity", func(r *DeviceRecord) Text { return r.RAMCapacity }, 100, true},
	{"storage_usage", func(r *DeviceRecord) Text { return r.StorageUsage }, 10, true},
	{"ram_usage", func(r *DeviceRecord) Text { return r.RAMUsage }, 10, true},
	{"last_repair_date", func(r *DeviceRecord) Text { return r.LastRepairDate }, 100, false},
	{"authorized_service", func(r *DeviceRecord) Text { return r.AuthorizedService }, 10, false},
	{"warranty_status", func(r *DeviceRecord) Text { return r.WarrantyStatus }, 10, false},
	{"screen_time", func(r *DeviceRecord) Text { return r.ScreenTime }, 10, true},
	{"charge_frequency", func(r *DeviceRecord) Text { return r.ChargeFrequency }, 20, true},
	{"charge_time", func(r *DeviceRecord) Text { return r.ChargeTime }, 20, true},
	{"environment", func(r *DeviceRecord) Text { return r.Environment }, 50, true},
	{"region_temp", func(r *DeviceRecord) Text { return r.RegionTemp }, 10, true},
	{"updated_software", func(r *DeviceRecord) Text { return r.UpdatedSoftware }, 10, true},
	{"rooted", func(r *DeviceRecord) Text { return r.Rooted }, 10, true},
}

func (r *DeviceRecord) Validate() error {
	var errs validate.Errs
	for _, l := range deviceTextLimits {
		v := string(l.get(r))
		if l.required {
			if fe := validate.Required(l.field, v); fe != nil {
				errs.Add(fe)
				continue
			}
		}
		errs.Add(validate.MaxLen(l.field, v, l.max))
	}
	errs.Add(validate.Email("user_email", r.UserEmail))
	if r.PreviousRepairs == nil {
		r.PreviousRepairs = List{}
	}
	if r.PrimaryUse == nil {
		r.PrimaryUse = List{}
	}
	return errs.Err()
}

// Features exposes the record's inputs to the classifier, keyed by feature name.
func (r *DeviceRecord) Features() map[string]any {
	return map[string]any{
		"battery_health":      string(r.BatteryHealth),
		"storage_usage":       string(r.StorageUsage),
		"ram_usage":           string(r.RAMUsage),
		"overheating":         bool(r.Overheating),
		"drop_history":        bool(r.DropHistory),
		"water_damage":        bool(r.WaterDamage),
		"sensor_issues":       bool(r.SensorIssues),
		"battery_bulging":     bool(r.BatteryBulging),
		"screen_cracked":      bool(r.ScreenCracked),
		"buttons_not_working": bool(r.ButtonsNotWorking),
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
