package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/phonehealth-backend/internal/gateway"
	"github.com/baharkarakas/phonehealth-backend/internal/metrics"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
	"github.com/baharkarakas/phonehealth-backend/internal/validate"
)

// PaymentGateway is the subset of *gateway.Client the workflow needs.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (gateway.Session, error)
	Validate(ctx context.Context, reference string) (gateway.ValidationResult, error)
}

// Callback sources, recorded on audit rows and metrics.
const (
	SourceRedirect = "redirect"
	SourceIPN      = "ipn"
	SourceFail     = "fail"
	SourceCancel   = "cancel"
)

type PaymentOptions struct {
	Callbacks gateway.CallbackURLs
	Currency  string
	NewID     func() string
}

type PaymentService struct {
	trx   repo.Transactions
	audit repo.AuditLogs
	gw    PaymentGateway
	mat   *Materializer
	opts  PaymentOptions
	log   *slog.Logger
}

func NewPaymentService(t repo.Transactions, a repo.AuditLogs, gw PaymentGateway, mat *Materializer, opts PaymentOptions, log *slog.Logger) *PaymentService {
	return &PaymentService{trx: t, audit: a, gw: gw, mat: mat, opts: opts, log: log}
}

type CreatePaymentInput struct {
	Amount          decimal.Decimal
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ProductName     string
	ProductCategory string
	FormData        map[string]any
}

func (in CreatePaymentInput) Validate() error {
	var errs validate.Errs
	errs.Add(
		validate.PositiveDecimal("amount", in.Amount),
		validate.Email("customer_email", strings.TrimSpace(in.CustomerEmail)),
		validate.MaxLen("product_name", in.ProductName, 255),
	)
	return errs.Err()
}

type CreatePaymentResult struct {
	TransactionID string
	SessionURL    string
	Transaction   models.Transaction
}

// CallbackOutcome describes what a gateway callback did to the ledger.
type CallbackOutcome struct {
	Transaction models.Transaction
	// Applied is true when this call moved the transaction out of PENDING.
	Applied bool
	Record  *models.DeviceRecord
}

// ----------------- Helpers -----------------

func (s *PaymentService) auditEvent(ctx context.Context, txID, action, source string, details map[string]any) {
	err := s.audit.Create(ctx, models.AuditLog{
		EntityType: "transaction",
		EntityID:   txID,
		Action:     action,
		Source:     source,
		Details:    details,
	})
	if err != nil {
		s.log.Warn("audit log write failed", "transaction_id", txID, "action", action, "err", err)
	}
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gateway.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, gateway.ErrRejected):
		return "rejected"
	case errors.Is(err, gateway.ErrMalformedResponse):
		return "malformed"
	}
	return "error"
}

// ----------------- Create -----------------

// CreatePayment opens a gateway session and, only once the gateway has
// acknowledged it, records a PENDING transaction carrying the form data.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (CreatePaymentResult, error) {
	if err := in.Validate(); err != nil {
		return CreatePaymentResult{}, err
	}

	id := s.opts.NewID()
	session, err := s.gw.CreateSession(ctx, gateway.SessionRequest{
		TransactionID: id,
		Amount:        in.Amount,
		Currency:      s.opts.Currency,
		Customer: gateway.Customer{
			Name:  in.CustomerName,
			Email: in.CustomerEmail,
			Phone: in.CustomerPhone,
		},
		ProductName:     in.ProductName,
		ProductCategory: in.ProductCategory,
		Callbacks:       s.opts.Callbacks,
		Passthrough:     []string{id},
	})
	outcome := gatewayOutcome(err)
	metrics.GatewayRequests.WithLabelValues("create_session", outcome).Inc()
	if err != nil {
		metrics.PaymentsCreated.WithLabelValues(outcome).Inc()
		s.log.Warn("gateway session not created", "transaction_id", id, "err", err)
		return CreatePaymentResult{}, fmt.Errorf("create session: %w", err)
	}

	tx, err := s.trx.Create(ctx, models.Transaction{
		ID:              id,
		Amount:          in.Amount,
		CustomerName:    in.CustomerName,
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerPhone:   in.CustomerPhone,
		ProductName:     in.ProductName,
		ProductCategory: in.ProductCategory,
		Status:          models.TxnPending,
		StagedFormData:  in.FormData,
	})
	if err != nil {
		metrics.PaymentsCreated.WithLabelValues("error").Inc()
		s.log.Error("gateway session opened but ledger insert failed", "transaction_id", id, "err", err)
		return CreatePaymentResult{}, fmt.Errorf("persist transaction: %w", err)
	}

	metrics.PaymentsCreated.WithLabelValues("created").Inc()
	s.auditEvent(ctx, id, "created", "create", map[string]any{
		"amount":      in.Amount.String(),
		"session_key": session.SessionKey,
	})
	s.log.Info("payment session created", "transaction_id", id, "amount", in.Amount.String())
	return CreatePaymentResult{TransactionID: id, SessionURL: session.URL, Transaction: tx}, nil
}

// ----------------- Callbacks -----------------

// HandleRedirect reconciles the browser's return from the gateway.
func (s *PaymentService) HandleRedirect(ctx context.Context, txID, reference string) (CallbackOutcome, error) {
	return s.reconcile(ctx, txID, reference, SourceRedirect)
}

// HandleIPN reconciles a server-to-server notification. ignored is true when
// the notification lacks the fields needed to act on it.
func (s *PaymentService) HandleIPN(ctx context.Context, txID, reference string) (out CallbackOutcome, ignored bool, err error) {
	if strings.TrimSpace(txID) == "" || strings.TrimSpace(reference) == "" {
		s.log.Info("ipn ignored: missing fields", "transaction_id", txID)
		return CallbackOutcome{}, true, nil
	}
	out, err = s.reconcile(ctx, txID, reference, SourceIPN)
	return out, false, err
}

// reconcile validates reference with the gateway and moves a PENDING
// transaction to SUCCESS or FAILED. Terminal transactions are returned
// without contacting the gateway, so duplicate and racing callbacks converge
// on whatever state won first. A SUCCESS transaction still missing its record
// gets another materialization attempt.
func (s *PaymentService) reconcile(ctx context.Context, txID, reference, source string) (CallbackOutcome, error) {
	tx, err := s.trx.GetByID(ctx, txID)
	if errors.Is(err, repo.ErrNotFound) {
		return CallbackOutcome{}, ErrTransactionNotFound
	}
	if err != nil {
		return CallbackOutcome{}, err
	}
	if tx.Status == models.TxnSuccess && tx.LinkedRecordID == nil {
		// paid but the record never landed; retry without asking the gateway again
		s.log.Debug("retrying record for paid transaction", "transaction_id", txID, "source", source)
		return s.materialize(ctx, CallbackOutcome{Transaction: tx}, source), nil
	}
	if tx.Status.IsTerminal() {
		s.log.Debug("callback on terminal transaction", "transaction_id", txID, "status", tx.Status, "source", source)
		return CallbackOutcome{Transaction: tx}, nil
	}

	res, err := s.gw.Validate(ctx, reference)
	metrics.GatewayRequests.WithLabelValues("validate", gatewayOutcome(err)).Inc()
	if err != nil {
		s.log.Warn("gateway validation failed", "transaction_id", txID, "source", source, "err", err)
		return CallbackOutcome{}, fmt.Errorf("validate: %w", err)
	}

	if valid, why := validationMatches(tx, res); !valid {
		return s.transition(ctx, txID, models.TxnFailed, nil, source, map[string]any{
			"validation_reference": reference,
			"gateway_status":       res.Status,
			"reason":               why,
		})
	}

	ref := res.ProviderTransactionRef
	if ref == "" {
		ref = reference
	}
	out, err := s.transition(ctx, txID, models.TxnSuccess, &ref, source, map[string]any{
		"validation_reference": reference,
		"gateway_reference":    ref,
	})
	if err != nil || !out.Applied {
		return out, err
	}

	return s.materialize(ctx, out, source), nil
}

// materialize links a record to a SUCCESS transaction. Failures never undo
// the payment; a later callback for the same transaction tries again.
func (s *PaymentService) materialize(ctx context.Context, out CallbackOutcome, source string) CallbackOutcome {
	txID := out.Transaction.ID
	rec, err := s.mat.Materialize(ctx, out.Transaction)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyMaterialized):
		// a concurrent callback linked it first
		if cur, gerr := s.trx.GetByID(ctx, txID); gerr == nil {
			out.Transaction = cur
		}
		return out
	case errors.Is(err, ErrValidationFailed) && !out.Applied:
		// already audited when the transition applied
		return out
	default:
		s.log.Warn("record not materialized", "transaction_id", txID, "err", err)
		s.auditEvent(ctx, txID, "materialize_failed", source, map[string]any{"error": err.Error()})
		return out
	}
	out.Record = &rec
	out.Transaction.LinkedRecordID = &rec.ID
	s.auditEvent(ctx, txID, "materialized", source, map[string]any{"record_id": rec.ID})
	return out
}

// validationMatches reports whether the gateway's answer confirms payment of
// this transaction, and why not otherwise.
func validationMatches(tx models.Transaction, res gateway.ValidationResult) (bool, string) {
	if !res.Valid {
		return false, "gateway status " + res.Status
	}
	if res.TransactionID != "" && res.TransactionID != tx.ID {
		return false, "gateway tran_id " + res.TransactionID + " does not match"
	}
	if res.Amount.Valid && !res.Amount.Decimal.Equal(tx.Amount) {
		return false, "gateway amount " + res.Amount.Decimal.String() + " does not match " + tx.Amount.String()
	}
	return true, ""
}

func (s *PaymentService) transition(ctx context.Context, txID string, to models.TransactionStatus, ref *string, source string, details map[string]any) (CallbackOutcome, error) {
	tx, applied, err := s.trx.Transition(ctx, txID, to, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return CallbackOutcome{}, ErrTransactionNotFound
	}
	if err != nil {
		return CallbackOutcome{}, err
	}
	if !applied {
		s.log.Info("transition lost to concurrent callback", "transaction_id", txID, "wanted", to, "status", tx.Status, "source", source)
		return CallbackOutcome{Transaction: tx}, nil
	}

	metrics.PaymentTransitions.WithLabelValues(string(to), source).Inc()
	s.auditEvent(ctx, txID, "status_change", source, mergeDetails(details, map[string]any{"status": string(to)}))
	s.log.Info("transaction status changed", "transaction_id", txID, "status", to, "source", source)
	return CallbackOutcome{Transaction: tx, Applied: true}, nil
}

func mergeDetails(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// MarkFailed records the gateway's fail redirect.
func (s *PaymentService) MarkFailed(ctx context.Context, txID string) (CallbackOutcome, error) {
	return s.transition(ctx, txID, models.TxnFailed, nil, SourceFail, nil)
}

// MarkCancelled records the user abandoning checkout.
func (s *PaymentService) MarkCancelled(ctx context.Context, txID string) (CallbackOutcome, error) {
	return s.transition(ctx, txID, models.TxnCancelled, nil, SourceCancel, nil)
}

// ----------------- Queries -----------------

func (s *PaymentService) Status(ctx context.Context, txID string) (models.Transaction, error) {
	tx, err := s.trx.GetByID(ctx, txID)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func (s *PaymentService) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	return s.trx.List(ctx, limit, offset)
}
