package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/phonehealth-backend/internal/api/httpx"
	"github.com/baharkarakas/phonehealth-backend/internal/classifier"
	"github.com/baharkarakas/phonehealth-backend/internal/models"
	"github.com/baharkarakas/phonehealth-backend/internal/services"
	"github.com/baharkarakas/phonehealth-backend/internal/validate"
)

type DeviceAPI interface {
	Submit(ctx context.Context, payload map[string]any) (models.DeviceRecord, error)
	ListInsights(ctx context.Context, email string) ([]models.DeviceRecord, error)
	GetInsight(ctx context.Context, id string) (models.DeviceRecord, error)
	Predict(payload map[string]any) (classifier.Prediction, error)
}

type DeviceHandler struct {
	Svc DeviceAPI
	Log *slog.Logger
}

func NewDeviceHandler(svc DeviceAPI, log *slog.Logger) *DeviceHandler {
	return &DeviceHandler{Svc: svc, Log: log}
}

// Submit stores a survey without payment.
func (h *DeviceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}
	rec, err := h.Svc.Submit(r.Context(), payload)
	var errs validate.Errs
	switch {
	case errors.As(err, &errs):
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "validation failed", errs)
	case err != nil:
		h.Log.Error("submit failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	default:
		httpx.WriteJSON(w, http.StatusCreated, rec)
	}
}

type insightsReq struct {
	Email string `json:"email"`
}

// Insights lists stored records, filtered by email when one is given.
func (h *DeviceHandler) Insights(w http.ResponseWriter, r *http.Request) {
	var req insightsReq
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
			return
		}
	}
	if fe := validate.Email("email", req.Email); fe != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "validation failed", validate.Errs{*fe})
		return
	}
	recs, err := h.Svc.ListInsights(r.Context(), req.Email)
	if err != nil {
		h.Log.Error("list insights failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recs)
}

func (h *DeviceHandler) Insight(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Svc.GetInsight(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, services.ErrRecordNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "record not found", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

// Predict scores a payload without storing it.
func (h *DeviceHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid request body", err.Error())
		return
	}
	p, err := h.Svc.Predict(payload)
	if errors.Is(err, services.ErrModelUnavailable) {
		httpx.WriteError(w, http.StatusServiceUnavailable, "model_unavailable", err.Error(), nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
