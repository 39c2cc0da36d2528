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

	"github.com/animus-labs/qadash/internal/auditexport"
	"github.com/animus-labs/qadash/internal/platform/env"
	"github.com/animus-labs/qadash/internal/platform/httpserver"
	"github.com/animus-labs/qadash/internal/platform/objectstore"
	"github.com/animus-labs/qadash/internal/platform/postgres"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
	repopg "github.com/animus-labs/qadash/internal/repo/postgres"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/service/catalog"
	"github.com/animus-labs/qadash/internal/service/defects"
	"github.com/animus-labs/qadash/internal/service/evidence"
	"github.com/animus-labs/qadash/internal/service/reports"
	"github.com/animus-labs/qadash/internal/service/runs"
	storageobjectstore "github.com/animus-labs/qadash/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := env.LoadDotEnv(); err != nil {
		logger.Error("invalid .env file", "error", err)
		os.Exit(2)
	}

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("QA_API_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("QA_API_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	writeTimeout, err := env.Duration("QA_API_WRITE_TIMEOUT", 2*time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	shareTTL, err := env.Duration("QA_SHARE_TTL", 7*24*time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	idleTimeout, err := env.Duration("QA_SESSION_IDLE_TIMEOUT", 4*time.Hour)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	migrateOnStart, err := env.Bool("QA_MIGRATE_ON_START", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	evidenceEnabled, err := env.Bool("QA_EVIDENCE_ENABLED", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}
	var exporter auditexport.Exporter = auditexport.NoopExporter{}
	if exportCfg.Mirrors() {
		exporter = auditexport.NewNDJSONExporter(os.Stdout)
	}

	var checks []httpserver.ReadinessCheck
	var store repo.Store
	switch mode := strings.ToLower(env.String("QA_STORE", "postgres")); mode {
	case "memory":
		mem := memory.New().Repositories()
		if exportCfg.Mirrors() {
			mem.Audit = auditexport.Tee{Appender: mem.Audit, Exporter: exporter, Logger: logger}
		}
		store = mem
		logger.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if migrateOnStart {
			applied, err := repopg.Migrate(ctx, db)
			if err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied", "versions", applied)
		}
		store = repopg.NewStore(db, exporter)
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: postgres.PingCheck(db, 750*time.Millisecond)})
	default:
		logger.Error("invalid env", "error", "QA_STORE must be postgres or memory", "value", mode)
		os.Exit(2)
	}

	var evidenceSvc *evidence.Service
	if evidenceEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		evidenceStore, err := storageobjectstore.NewMinioStore(storeClient)
		if err != nil {
			logger.Error("evidence store init failed", "error", err)
			os.Exit(2)
		}
		evidenceSvc = evidence.New(evidenceStore, storeCfg.BucketEvidence, storeCfg.PresignTTL, logger)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBuckets(ctx, storeClient, storeCfg)
			},
		})
	}

	api := newQAAPI(logger, store, evidenceSvc, shareTTL)
	go api.pruneSessions(ctx, idleTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithTimeout(serviceName, 750*time.Millisecond, checks...))
	api.register(mux)

	cfg := httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
		WriteTimeout:    writeTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newQAAPI(logger *slog.Logger, store repo.Store, evidenceSvc *evidence.Service, shareTTL time.Duration) *qaAPI {
	recorder := audit.NewRecorder(store.Audit, logger)
	return &qaAPI{
		logger:  logger,
		catalog: catalog.New(store.Projects, store.Suites, store.Cases, recorder, logger),
		runs: runs.New(runs.Deps{
			Suites:   store.Suites,
			Cases:    store.Cases,
			Runs:     store.Runs,
			Results:  store.Results,
			Defects:  store.Defects,
			AuditLog: store.AuditLog,
			Audit:    recorder,
			Logger:   logger,
		}),
		defects:  defects.New(store.Defects, store.Cases, store.Runs, recorder, logger),
		reports:  reports.New(store, recorder, shareTTL, logger),
		evidence: evidenceSvc,
	}
}

// pruneSessions abandons live sessions nobody touched within idle.
func (api *qaAPI) pruneSessions(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.runs.PruneIdle(ctx, idle)
		}
	}
}
