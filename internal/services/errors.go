package services

import "errors"

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRecordNotFound      = errors.New("device record not found")
	// ErrValidationFailed: the staged payload does not form a valid device record.
	ErrValidationFailed    = errors.New("record validation failed")
	ErrAlreadyMaterialized = errors.New("record already materialized for transaction")
	ErrModelUnavailable    = errors.New("prediction model not loaded")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)
