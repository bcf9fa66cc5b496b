package repository

import (
	"context"
	"errors"

	"github.com/baharkarakas/phonehealth-backend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyLinked means the transaction already owns a device record.
	ErrAlreadyLinked = errors.New("transaction already linked to a record")
)

type Transactions interface {
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	List(ctx context.Context, limit, offset int) ([]models.Transaction, error)

	// Transition moves a PENDING transaction to `to` in a single conditional
	// update. applied is false (and err nil) when the row was already terminal;
	// the returned transaction is then the current stored state.
	Transition(ctx context.Context, id string, to models.TransactionStatus, gatewayRef *string) (tx models.Transaction, applied bool, err error)
}

type DeviceRecords interface {
	Create(ctx context.Context, rec models.DeviceRecord) (models.DeviceRecord, error)
	GetByID(ctx context.Context, id string) (models.DeviceRecord, error)
	ListByEmail(ctx context.Context, email string) ([]models.DeviceRecord, error)

	// CreateLinked inserts rec and links it to the transaction atomically.
	// Returns ErrAlreadyLinked (and persists nothing) if a link exists.
	CreateLinked(ctx context.Context, txID string, rec models.DeviceRecord) (models.DeviceRecord, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}
