package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/baharkarakas/phonehealth-backend/internal/classifier"
	"github.com/baharkarakas/phonehealth-backend/internal/metrics"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
)

// Materializer turns the form data staged on a paid transaction into a
// DeviceRecord. It is the only writer of a transaction's linked record.
type Materializer struct {
	records repo.DeviceRecords
	model   *classifier.Model
	log     *slog.Logger
}

func NewMaterializer(records repo.DeviceRecords, model *classifier.Model, log *slog.Logger) *Materializer {
	return &Materializer{records: records, model: model, log: log}
}

func (m *Materializer) Materialize(ctx context.Context, tx models.Transaction) (models.DeviceRecord, error) {
	if tx.LinkedRecordID != nil {
		metrics.RecordsMaterialized.WithLabelValues("duplicate").Inc()
		return models.DeviceRecord{}, ErrAlreadyMaterialized
	}

	rec, err := models.DeviceRecordFromPayload(tx.StagedFormData, tx.CustomerEmail)
	if err == nil {
		err = rec.Validate()
	}
	if err != nil {
		metrics.RecordsMaterialized.WithLabelValues("invalid").Inc()
		m.log.Warn("staged form data rejected; payment kept", "transaction_id", tx.ID, "err", err)
		return models.DeviceRecord{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	attachPrediction(m.model, &rec, m.log)

	created, err := m.records.CreateLinked(ctx, tx.ID, rec)
	switch {
	case errors.Is(err, repo.ErrAlreadyLinked):
		metrics.RecordsMaterialized.WithLabelValues("duplicate").Inc()
		return models.DeviceRecord{}, ErrAlreadyMaterialized
	case errors.Is(err, repo.ErrNotFound):
		return models.DeviceRecord{}, ErrTransactionNotFound
	case err != nil:
		metrics.RecordsMaterialized.WithLabelValues("error").Inc()
		return models.DeviceRecord{}, err
	}

	metrics.RecordsMaterialized.WithLabelValues("created").Inc()
	m.log.Info("device record materialized", "transaction_id", tx.ID, "record_id", created.ID)
	return created, nil
}

// attachPrediction stores the classifier label on rec. A missing model only
// leaves the prediction empty.
func attachPrediction(model *classifier.Model, rec *models.DeviceRecord, log *slog.Logger) {
	if model == nil {
		log.Debug("no model loaded; skipping prediction")
		return
	}
	p := model.Predict(rec.Features())
	metrics.Predictions.WithLabelValues(p.Label).Inc()
	rec.MLPrediction = &p.Label
}
