// Command batchcore runs the batch lifecycle daemon: it wires the persistent
// store, the commit rules engine, the external collaborators, and the async
// dispatcher, and serves metrics over HTTP.
package main

import (
	"context"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"batchcore/internal/collab"
	"batchcore/internal/config"
	"batchcore/internal/core"
	"batchcore/pkg/domain"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		logger.Fatal("open persistent store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := core.OpenBlobStore(ctx)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}

	var workflow core.WorkflowClient
	if cfg.WorkflowBaseURL != "" {
		workflow = collab.NewWorkflowHTTPClient(cfg.WorkflowBaseURL, cfg.CollaboratorTimeout)
	}
	var auditNext core.AuditForwarder
	if cfg.AuditBaseURL != "" {
		auditNext = collab.NewAuditHTTPClient(cfg.AuditBaseURL, cfg.CollaboratorTimeout)
	}

	coreLogger := core.NewZapLogger(logger)
	audit := core.NewJournalingAuditRecorder(auditNext, blobs, coreLogger)

	var roles core.RoleDirectory
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		roles = collab.NewRedisRoleDirectory(client)
		logger.Info("identity role cache enabled", zap.String("addr", cfg.RedisAddr))
	} else {
		roles = core.NewStaticRoleDirectory(staticRolesFromEnv())
		logger.Info("static role directory in use")
	}

	dispatcher := core.NewDispatcher(workflow, store, blobs, coreLogger)
	dispatcher.Start()

	metrics, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("register metrics", zap.Error(err))
	}

	lifecycle := core.NewLifecycleService(store, roles,
		core.WithLogger(coreLogger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(audit),
		core.WithDispatcher(dispatcher),
	)
	logger.Info("lifecycle engine ready",
		zap.String("storage", cfg.StorageDriver),
		zap.String("blob", cfg.BlobDriver),
		zap.Int("batches", len(lifecycle.ListBatches(ctx))))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listener started", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics listener shutdown", zap.Error(err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher shutdown", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// staticRolesFromEnv parses BATCHCORE_STATIC_ROLES, a comma-separated list of
// actor=role pairs, e.g. "alice=qualified_person,bob=analyst".
func staticRolesFromEnv() map[string]domain.Role {
	out := make(map[string]domain.Role)
	raw := os.Getenv("BATCHCORE_STATIC_ROLES")
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		role := domain.Role(strings.TrimSpace(parts[1]))
		if role.Known() {
			out[strings.TrimSpace(parts[0])] = role
		}
	}
	return out
}
