// Package gateway talks to the SSLCommerz-style payment provider: it opens
// hosted checkout sessions and validates the references the provider hands
// back on redirects and IPNs. It keeps no state between calls and never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL = "https://sandbox.sslcommerz.com"
	LiveBaseURL    = "https://securepay.sslcommerz.com"

	DefaultTimeout = 15 * time.Second

	sessionPath    = "/gwprocess/v4/api.php"
	validationPath = "/validator/api/validationserverAPI.php"

	maxBody = 1 << 20
)

type Config struct {
	BaseURL       string // overrides Sandbox when set
	Sandbox       bool
	StoreID       string
	StorePassword string
	Timeout       time.Duration
}

type Client struct {
	baseURL       string
	storeID       string
	storePassword string
	http          *http.Client
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = LiveBaseURL
		if cfg.Sandbox {
			base = SandboxBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(base, "/"),
		storeID:       cfg.StoreID,
		storePassword: cfg.StorePassword,
		http:          &http.Client{Timeout: timeout},
	}
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type CallbackURLs struct {
	Success string
	Fail    string
	Cancel  string
	IPN     string
}

type SessionRequest struct {
	TransactionID   string
	Amount          decimal.Decimal
	Currency        string
	Customer        Customer
	ProductName     string
	ProductCategory string
	Callbacks       CallbackURLs
	// Passthrough is echoed back by the provider as value_a..value_d.
	Passthrough []string
}

type Session struct {
	URL        string
	SessionKey string
	Raw        json.RawMessage
}

type ValidationResult struct {
	Valid                  bool
	Status                 string
	TransactionID          string
	ProviderTransactionRef string
	Amount                 decimal.NullDecimal
	Raw                    json.RawMessage
}

// CreateSession asks the provider for a hosted checkout page.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	const op = "create_session"

	currency := req.Currency
	if currency == "" {
		currency = "BDT"
	}
	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", currency)
	form.Set("tran_id", req.TransactionID)
	form.Set("success_url", req.Callbacks.Success)
	form.Set("fail_url", req.Callbacks.Fail)
	form.Set("cancel_url", req.Callbacks.Cancel)
	form.Set("ipn_url", req.Callbacks.IPN)
	form.Set("cus_name", orDefault(req.Customer.Name, "Customer"))
	form.Set("cus_email", orDefault(req.Customer.Email, "customer@example.com"))
	form.Set("cus_phone", orDefault(req.Customer.Phone, "01700000000"))
	form.Set("cus_add1", "N/A")
	form.Set("cus_city", "N/A")
	form.Set("cus_country", "Bangladesh")
	form.Set("shipping_method", "NO")
	form.Set("product_name", orDefault(req.ProductName, "Device Health Report"))
	form.Set("product_category", orDefault(req.ProductCategory, "Service"))
	form.Set("product_profile", "non-physical-goods")
	for i, v := range req.Passthrough {
		if i >= 4 {
			break
		}
		form.Set(fmt.Sprintf("value_%c", 'a'+i), v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, body, err := c.do(httpReq, op)
	if err != nil {
		return Session{}, err
	}

	var ack struct {
		Status         string `json:"status"`
		FailedReason   string `json:"failedreason"`
		SessionKey     string `json:"sessionkey"`
		GatewayPageURL string `json:"GatewayPageURL"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		if status >= 400 {
			return Session{}, &RejectedError{Reason: fmt.Sprintf("http %d: %s", status, truncate(body))}
		}
		return Session{}, &MalformedError{Op: op, Body: string(body), Err: err}
	}
	if !strings.EqualFold(ack.Status, "SUCCESS") || ack.GatewayPageURL == "" {
		reason := ack.FailedReason
		if reason == "" {
			reason = fmt.Sprintf("status %q", ack.Status)
		}
		return Session{}, &RejectedError{Reason: reason}
	}
	return Session{URL: ack.GatewayPageURL, SessionKey: ack.SessionKey, Raw: json.RawMessage(body)}, nil
}

// Validate checks a validation reference (val_id) with the provider.
func (c *Client) Validate(ctx context.Context, reference string) (ValidationResult, error) {
	const op = "validate"

	q := url.Values{}
	q.Set("val_id", reference)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.storePassword)
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+validationPath+"?"+q.Encode(), nil)
	if err != nil {
		return ValidationResult{}, err
	}

	_, body, err := c.do(httpReq, op)
	if err != nil {
		return ValidationResult{}, err
	}

	var res struct {
		Status     string          `json:"status"`
		TranID     string          `json:"tran_id"`
		BankTranID string          `json:"bank_tran_id"`
		Amount     json.RawMessage `json:"amount"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&res); err != nil {
		return ValidationResult{}, &MalformedError{Op: op, Body: string(body), Err: err}
	}

	out := ValidationResult{
		Status:                 strings.ToUpper(res.Status),
		TransactionID:          res.TranID,
		ProviderTransactionRef: res.BankTranID,
		Raw:                    json.RawMessage(body),
	}
	out.Valid = out.Status == "VALID" || out.Status == "VALIDATED"
	if len(res.Amount) > 0 {
		// the provider sends amounts both quoted and bare
		if amt, err := decimal.NewFromString(strings.Trim(string(res.Amount), `"`)); err == nil {
			out.Amount = decimal.NewNullDecimal(amt)
		}
	}
	return out, nil
}

func (c *Client) do(req *http.Request, op string) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &UnreachableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, &UnreachableError{Op: op, Err: err}
	}
	if resp.StatusCode >= 500 {
		return 0, nil, &UnreachableError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return resp.StatusCode, body, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truncate(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
