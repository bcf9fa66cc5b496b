package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "PENDING"
	TxnSuccess   TransactionStatus = "SUCCESS"
	TxnFailed    TransactionStatus = "FAILED"
	TxnCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TransactionStatus) IsTerminal() bool {
	return s == TxnSuccess || s == TxnFailed || s == TxnCancelled
}

type Transaction struct {
	ID               string            `json:"transaction_id"`
	Amount           decimal.Decimal   `json:"amount"`
	CustomerName     string            `json:"customer_name,omitempty"`
	CustomerEmail    string            `json:"customer_email,omitempty"`
	CustomerPhone    string            `json:"customer_phone,omitempty"`
	ProductName      string            `json:"product_name,omitempty"`
	ProductCategory  string            `json:"product_category,omitempty"`
	Status           TransactionStatus `json:"status"`
	GatewayReference *string           `json:"gateway_reference,omitempty"`
	StagedFormData   map[string]any    `json:"-"`
	LinkedRecordID   *string           `json:"linked_record_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
