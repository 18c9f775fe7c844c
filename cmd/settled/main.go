// Command settled runs a small HTTP server around the settle engine. It is
// wired for local development: in-memory store and blob storage, a fake
// payment processor, and HS256 bearer tokens minted by the server itself.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/billsplit/settle"
	audithook "github.com/billsplit/settle/audit_hook"
	"github.com/billsplit/settle/blob"
	"github.com/billsplit/settle/identity"
	"github.com/billsplit/settle/observability"
	"github.com/billsplit/settle/processor"
	"github.com/billsplit/settle/store/memory"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      levelFromEnv(),
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	addr := getEnv("ADDR", ":8080")
	secret := getEnv("AUTH_SECRET", "settled-dev-secret")
	tokenTTL := 24 * time.Hour

	verifier := identity.NewJWTVerifier(secret, tokenTTL)
	metrics := observability.NewMetricsExtension(
		observability.NewPrometheusFactory(prometheus.DefaultRegisterer),
	)
	audit := audithook.New(audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
		)
		return nil
	}), audithook.WithLogger(logger))

	eng := settle.New(memory.New(),
		settle.WithLogger(logger),
		settle.WithIdentity(verifier),
		settle.WithBlobStorage(blob.NewMemory()),
		settle.WithPaymentProvider(&processor.Fake{}),
		settle.WithPlugin(metrics),
		settle.WithPlugin(audit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			logger.Error("engine stop failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(logger, newServer(eng, verifier).routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx) //nolint:errcheck // best-effort drain on signal
	}()

	logger.Info("settled listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loggingMiddleware logs every request with its outcome and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
