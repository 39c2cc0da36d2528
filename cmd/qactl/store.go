package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/animus-labs/qadash/internal/auditexport"
	"github.com/animus-labs/qadash/internal/platform/env"
	"github.com/animus-labs/qadash/internal/platform/postgres"
	"github.com/animus-labs/qadash/internal/repo"
	repopg "github.com/animus-labs/qadash/internal/repo/postgres"
)

// backend is an opened store plus the handle needed to migrate and close it.
type backend struct {
	Store repo.Store
	DB    *sql.DB
	Close func() error
}

type openFunc func(ctx context.Context) (backend, error)

func openPostgresStore(ctx context.Context) (backend, error) {
	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return backend{}, fmt.Errorf("database config: %w", err)
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return backend{}, fmt.Errorf("database unavailable: %w", err)
	}
	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		_ = db.Close()
		return backend{}, fmt.Errorf("audit export config: %w", err)
	}
	var exporter auditexport.Exporter = auditexport.NoopExporter{}
	if exportCfg.Mirrors() {
		exporter = auditexport.NewNDJSONExporter(os.Stderr)
	}
	return backend{Store: repopg.NewStore(db, exporter), DB: db, Close: db.Close}, nil
}

func cliActor() string {
	if actor := env.String("QA_ACTOR", ""); actor != "" {
		return actor
	}
	if user := env.String("USER", ""); user != "" {
		return user
	}
	return "qactl"
}
