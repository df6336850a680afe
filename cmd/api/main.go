package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"patient-record-sharing/internal/adapters/auth/jwtauth"
	pg "patient-record-sharing/internal/adapters/storage/postgres"
	"patient-record-sharing/internal/migrate"
	"patient-record-sharing/internal/platform/logger"
	"patient-record-sharing/internal/ports/auth"
	"patient-record-sharing/internal/router"
)

func main() {
	addr := flag.String("addr", envOr("PORT", "8080"), "listen port")
	dsn := flag.String("dsn", os.Getenv("DB_DSN"), "PostgreSQL DSN (vacío => repos in-memory)")
	jwtKey := flag.String("jwt-key", os.Getenv("JWT_KEY"), "HS256 key del identity provider (vacío => modo dev)")
	webhookURL := flag.String("notify-webhook", os.Getenv("NOTIFY_WEBHOOK_URL"), "URL del sink de notificaciones (opcional)")
	snapshotEvery := flag.Duration("snapshot-interval", 5*time.Minute, "cada cuánto recalcular el rollup de analytics")
	flag.Parse()

	log := logger.NewFromEnv()
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *pg.DB
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
		opened, err := pg.Open(ctx, *dsn)
		if err != nil {
			log.Fatal("postgres open", zap.Error(err))
		}
		db = opened
		defer db.Close()
	} else {
		log.Warn("no DB_DSN configured, using in-memory repositories")
	}

	var verifier auth.AuthVerifier
	if *jwtKey != "" {
		verifier = jwtauth.NewVerifier(*jwtKey)
	} else {
		log.Warn("no JWT key configured, auth runs in dev mode (X-Debug-User-ID)")
	}

	app := router.New(router.Options{
		AuthVerifier:     verifier,
		DB:               db,
		NotifyWebhookURL: *webhookURL,
		Logger:           log,
	})

	// Primer rollup al arrancar; después lo refresca el ticker.
	if _, err := app.Audit.ComputeSnapshot(ctx); err != nil {
		log.Warn("initial snapshot failed", zap.Error(err))
	}
	go snapshotLoop(ctx, app, *snapshotEvery, log)

	srv := &http.Server{
		Addr:         ":" + *addr,
		Handler:      app.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

func snapshotLoop(ctx context.Context, app *router.App, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Audit.ComputeSnapshot(ctx); err != nil {
				log.Warn("snapshot refresh failed", zap.Error(err))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
