package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/phonehealth-backend/internal/api"
	"github.com/baharkarakas/phonehealth-backend/internal/auth"
	"github.com/baharkarakas/phonehealth-backend/internal/classifier"
	"github.com/baharkarakas/phonehealth-backend/internal/config"
	"github.com/baharkarakas/phonehealth-backend/internal/db"
	"github.com/baharkarakas/phonehealth-backend/internal/gateway"
	"github.com/baharkarakas/phonehealth-backend/internal/logger"
	"github.com/baharkarakas/phonehealth-backend/internal/metrics"
	"github.com/baharkarakas/phonehealth-backend/internal/repository/postgres"
	"github.com/baharkarakas/phonehealth-backend/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Migrate {
		if _, err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	// the model is read once; every request shares it
	model, err := classifier.Load(cfg.ModelPath)
	if err != nil {
		log.Warn("classifier unavailable; predictions disabled", "path", cfg.ModelPath, "err", err)
	} else {
		log.Info("classifier loaded", "version", model.Version)
	}

	newID, err := services.NewTransactionIDGenerator(cfg.NodeID)
	if err != nil {
		log.Error("id generator", "err", err)
		os.Exit(1)
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		Sandbox:       cfg.Gateway.Sandbox,
		StoreID:       cfg.Gateway.StoreID,
		StorePassword: cfg.Gateway.StorePassword,
	})

	repos := postgres.NewRepositories(pool)
	mat := services.NewMaterializer(repos.DeviceRecords, model, log)
	paymentSvc := services.NewPaymentService(repos.Transactions, repos.AuditLogs, gw, mat, services.PaymentOptions{
		Callbacks: gateway.CallbackURLs{
			Success: cfg.CallbackURL("payment/success"),
			Fail:    cfg.CallbackURL("payment/fail"),
			Cancel:  cfg.CallbackURL("payment/cancel"),
			IPN:     cfg.CallbackURL("payment-ipn"),
		},
		Currency: cfg.Gateway.Currency,
		NewID:    newID,
	}, log)
	deviceSvc := services.NewDeviceService(repos.DeviceRecords, model, log)

	tm := auth.NewTokenManager(cfg.JWTIssuer, cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	adminSvc := services.NewAdminService(tm, cfg.AdminEmail, cfg.AdminPasswordHash)
	if cfg.AdminEmail == "" || cfg.AdminPasswordHash == "" {
		log.Warn("admin login disabled: ADMIN_EMAIL or ADMIN_PASSWORD_HASH unset")
	}

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:      cfg,
		Log:      log,
		Tokens:   tm,
		Payments: paymentSvc,
		Devices:  deviceSvc,
		Admin:    adminSvc,
		Ledger:   paymentSvc,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "gateway_sandbox", cfg.Gateway.Sandbox)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}
