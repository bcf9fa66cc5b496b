package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/phonehealth-backend/internal/api/httpx"
	"github.com/baharkarakas/phonehealth-backend/internal/config"
	"github.com/baharkarakas/phonehealth-backend/internal/gateway"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	"github.com/baharkarakas/phonehealth-backend/internal/services"
	"github.com/baharkarakas/phonehealth-backend/internal/validate"
)

// PaymentAPI is what the payment endpoints need from *services.PaymentService.
type PaymentAPI interface {
	CreatePayment(ctx context.Context, in services.CreatePaymentInput) (services.CreatePaymentResult, error)
	HandleRedirect(ctx context.Context, txID, reference string) (services.CallbackOutcome, error)
	HandleIPN(ctx context.Context, txID, reference string) (services.CallbackOutcome, bool, error)
	MarkFailed(ctx context.Context, txID string) (services.CallbackOutcome, error)
	MarkCancelled(ctx context.Context, txID string) (services.CallbackOutcome, error)
	Status(ctx context.Context, txID string) (models.Transaction, error)
}

type PaymentHandler struct {
	Svc      PaymentAPI
	Frontend config.FrontendConfig
	Log      *slog.Logger
}

func NewPaymentHandler(svc PaymentAPI, frontend config.FrontendConfig, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{Svc: svc, Frontend: frontend, Log: log}
}

// paymentReply is the {status, message} envelope the payment endpoints share.
type paymentReply struct {
	Status        string      `json:"status"`
	Message       string      `json:"message,omitempty"`
	SessionURL    string      `json:"session_url,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Details       interface{} `json:"details,omitempty"`
}

type createPaymentReq struct {
	Amount          decimal.Decimal `json:"amount"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone"`
	ProductName     string          `json:"product_name"`
	ProductCategory string          `json:"product_category"`
	FormData        map[string]any  `json:"form_data"`
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, paymentReply{Status: "FAILED", Message: "invalid request body: " + err.Error()})
		return
	}

	res, err := h.Svc.CreatePayment(r.Context(), services.CreatePaymentInput{
		Amount:          req.Amount,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ProductName:     req.ProductName,
		ProductCategory: req.ProductCategory,
		FormData:        req.FormData,
	})
	if err != nil {
		h.writePaymentErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, paymentReply{
		Status:        "SUCCESS",
		SessionURL:    res.SessionURL,
		TransactionID: res.TransactionID,
	})
}

func (h *PaymentHandler) writePaymentErr(w http.ResponseWriter, err error) {
	var (
		errs      validate.Errs
		rejected  *gateway.RejectedError
		malformed *gateway.MalformedError
	)
	switch {
	case errors.As(err, &errs):
		httpx.WriteJSON(w, http.StatusBadRequest, paymentReply{Status: "FAILED", Message: "validation failed", Details: errs})
	case errors.As(err, &rejected):
		httpx.WriteJSON(w, http.StatusBadRequest, paymentReply{Status: "FAILED", Message: rejected.Reason})
	case errors.As(err, &malformed):
		httpx.WriteJSON(w, http.StatusBadGateway, paymentReply{Status: "FAILED", Message: "malformed gateway response", Details: malformed.Body})
	case errors.Is(err, gateway.ErrUnreachable):
		httpx.WriteJSON(w, http.StatusBadGateway, paymentReply{Status: "FAILED", Message: "payment gateway unreachable"})
	case errors.Is(err, services.ErrTransactionNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, paymentReply{Status: "FAILED", Message: err.Error()})
	default:
		h.Log.Error("payment request failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, paymentReply{Status: "FAILED", Message: err.Error()})
	}
}

// Success handles the browser returning from a completed checkout.
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	p, err := callbackParams(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid callback body", err.Error())
		return
	}
	txID, ref := transactionID(p), validationReference(p)
	if txID == "" || ref == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "transaction_id and validation_reference are required", nil)
		return
	}

	out, err := h.Svc.HandleRedirect(r.Context(), txID, ref)
	if err != nil {
		h.writePaymentErr(w, err)
		return
	}
	h.redirect(w, r, out.Transaction)
}

// Fail handles the gateway's fail redirect.
func (h *PaymentHandler) Fail(w http.ResponseWriter, r *http.Request) {
	h.terminate(w, r, h.Svc.MarkFailed)
}

// Cancel handles the user abandoning checkout.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.terminate(w, r, h.Svc.MarkCancelled)
}

func (h *PaymentHandler) terminate(w http.ResponseWriter, r *http.Request, mark func(context.Context, string) (services.CallbackOutcome, error)) {
	p, err := callbackParams(r)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid callback body", err.Error())
		return
	}
	txID := transactionID(p)
	if txID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing_fields", "transaction_id is required", nil)
		return
	}
	out, err := mark(r.Context(), txID)
	if err != nil {
		h.writePaymentErr(w, err)
		return
	}
	h.redirect(w, r, out.Transaction)
}

// redirect sends the browser to the frontend page matching the ledger state,
// so a replayed callback lands where the first one did.
func (h *PaymentHandler) redirect(w http.ResponseWriter, r *http.Request, tx models.Transaction) {
	dest := h.Frontend.FailURL
	switch tx.Status {
	case models.TxnSuccess:
		dest = h.Frontend.SuccessURL
	case models.TxnCancelled:
		dest = h.Frontend.CancelURL
	}
	http.Redirect(w, r, withTranID(dest, tx.ID), http.StatusFound)
}

func withTranID(dest, txID string) string {
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	q := u.Query()
	q.Set("tran_id", txID)
	u.RawQuery = q.Encode()
	return u.String()
}

// IPN answers the gateway's server-to-server notification. It never redirects.
func (h *PaymentHandler) IPN(w http.ResponseWriter, r *http.Request) {
	p, err := callbackParams(r)
	if err != nil {
		httpx.WriteJSON(w, http.StatusOK, paymentReply{Status: "IGNORED", Message: "unreadable notification"})
		return
	}

	out, ignored, err := h.Svc.HandleIPN(r.Context(), transactionID(p), validationReference(p))
	switch {
	case ignored:
		httpx.WriteJSON(w, http.StatusOK, paymentReply{Status: "IGNORED", Message: "missing transaction_id or validation_reference"})
	case errors.Is(err, services.ErrTransactionNotFound):
		httpx.WriteJSON(w, http.StatusNotFound, paymentReply{Status: "ERROR", Message: err.Error()})
	case err != nil:
		h.Log.Error("ipn processing failed", "transaction_id", transactionID(p), "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, paymentReply{Status: "ERROR", Message: err.Error()})
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"status":             "OK",
			"transaction_id":     out.Transaction.ID,
			"transaction_status": string(out.Transaction.Status),
		})
	}
}

type statusResp struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	CreatedAt     string                   `json:"created_at"`
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Svc.Status(r.Context(), chi.URLParam(r, "transaction_id"))
	if errors.Is(err, services.ErrTransactionNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "transaction not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResp{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Amount:        tx.Amount,
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
	})
}
