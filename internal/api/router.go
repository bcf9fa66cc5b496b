package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/phonehealth-backend/internal/api/handlers"
	"github.com/baharkarakas/phonehealth-backend/internal/auth"
	"github.com/baharkarakas/phonehealth-backend/internal/config"
	"github.com/baharkarakas/phonehealth-backend/internal/metrics"
	"github.com/baharkarakas/phonehealth-backend/internal/middleware"
	"github.com/baharkarakas/phonehealth-backend/internal/services"
)

type RouterDeps struct {
	Cfg      config.Config
	Log      *slog.Logger
	Tokens   *auth.TokenManager
	Payments handlers.PaymentAPI
	Devices  handlers.DeviceAPI
	Admin    handlers.AdminAPI
	Ledger   handlers.TransactionLister
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover(d.Log), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	pay := handlers.NewPaymentHandler(d.Payments, d.Cfg.Frontend, d.Log)
	dev := handlers.NewDeviceHandler(d.Devices, d.Log)
	adm := handlers.NewAuthHandler(d.Admin, d.Ledger)
	authMW := middleware.NewAuthMiddleware(d.Tokens)

	r.Route("/api", func(r chi.Router) {
		// the gateway's IPN always gets a JSON acknowledgement, never a 429
		r.Post("/payment-ipn", pay.IPN)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.Cfg.RateRPS))

			// ---------- surveys ----------
			r.Post("/submit", dev.Submit)
			r.Post("/insights", dev.Insights)
			r.Get("/insights/{id}", dev.Insight)
			r.Post("/predict", dev.Predict)

			// ---------- payments ----------
			r.Post("/create-payment", pay.Create)
			r.Get("/payment/success", pay.Success)
			r.Post("/payment/success", pay.Success)
			r.Get("/payment/fail", pay.Fail)
			r.Post("/payment/fail", pay.Fail)
			r.Get("/payment/cancel", pay.Cancel)
			r.Post("/payment/cancel", pay.Cancel)
			r.Get("/payment-status/{transaction_id}", pay.Status)

			// ---------- admin ----------
			r.Post("/admin/login", adm.Login)
			r.Post("/admin/refresh", adm.Refresh)
			r.Group(func(r chi.Router) {
				r.Use(authMW.Auth, middleware.RequireRole(services.RoleAdmin))
				r.Get("/admin/transactions", adm.Transactions)
			})
		})
	})

	return r
}
