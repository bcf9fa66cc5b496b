package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/baharkarakas/phonehealth-backend/internal/api/httpx"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	"github.com/baharkarakas/phonehealth-backend/internal/services"
)

type AdminAPI interface {
	Login(email, password string) (services.TokenPair, error)
	Refresh(refreshToken string) (services.TokenPair, error)
}

type TransactionLister interface {
	List(ctx context.Context, limit, offset int) ([]models.Transaction, error)
}

type AuthHandler struct {
	Admin AdminAPI
	Txns  TransactionLister
}

func NewAuthHandler(admin AdminAPI, txns TransactionLister) *AuthHandler {
	return &AuthHandler{Admin: admin, Txns: txns}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "email and password are required", nil)
		return
	}
	pair, err := h.Admin.Login(req.Email, req.Password)
	h.writePair(w, pair, err)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "refresh_token is required", nil)
		return
	}
	pair, err := h.Admin.Refresh(req.RefreshToken)
	h.writePair(w, pair, err)
}

func (h *AuthHandler) writePair(w http.ResponseWriter, pair services.TokenPair, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
	case err != nil:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
	default:
		httpx.WriteJSON(w, http.StatusOK, pair)
	}
}

// Transactions pages through the ledger for operators.
func (h *AuthHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	txs, err := h.Txns.List(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}
