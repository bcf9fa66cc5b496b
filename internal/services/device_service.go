package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/baharkarakas/phonehealth-backend/internal/classifier"
	"github.com/baharkarakas/phonehealth-backend/internal/metrics"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
)

// DeviceService serves survey submissions and insights outside the payment flow.
type DeviceService struct {
	records repo.DeviceRecords
	model   *classifier.Model
	log     *slog.Logger
}

func NewDeviceService(records repo.DeviceRecords, model *classifier.Model, log *slog.Logger) *DeviceService {
	return &DeviceService{records: records, model: model, log: log}
}

func (s *DeviceService) Submit(ctx context.Context, payload map[string]any) (models.DeviceRecord, error) {
	rec, err := models.DeviceRecordFromPayload(payload, "")
	if err != nil {
		return models.DeviceRecord{}, err
	}
	if err := rec.Validate(); err != nil {
		return models.DeviceRecord{}, err
	}
	attachPrediction(s.model, &rec, s.log)
	return s.records.Create(ctx, rec)
}

// ListInsights returns every record, or only those of email when given.
func (s *DeviceService) ListInsights(ctx context.Context, email string) ([]models.DeviceRecord, error) {
	return s.records.ListByEmail(ctx, strings.TrimSpace(email))
}

func (s *DeviceService) GetInsight(ctx context.Context, id string) (models.DeviceRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return models.DeviceRecord{}, ErrRecordNotFound
	}
	return rec, err
}

func (s *DeviceService) Predict(payload map[string]any) (classifier.Prediction, error) {
	if s.model == nil {
		return classifier.Prediction{}, ErrModelUnavailable
	}
	p := s.model.Predict(payload)
	metrics.Predictions.WithLabelValues(p.Label).Inc()
	return p, nil
}
