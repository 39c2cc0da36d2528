package postgres

import (
	"database/sql"

	"github.com/animus-labs/qadash/internal/auditexport"
	"github.com/animus-labs/qadash/internal/repo"
)

// NewStore wires every Postgres repository over one connection pool.
func NewStore(db *sql.DB, exporter auditexport.Exporter) repo.Store {
	return repo.Store{
		Projects: NewProjectStore(db),
		Suites:   NewSuiteStore(db),
		Cases:    NewCaseStore(db),
		Runs:     NewRunStore(db),
		Results:  NewResultStore(db),
		Defects:  NewDefectStore(db),
		Shares:   NewShareStore(db),
		Audit:    NewAuditAppender(db, exporter),
		AuditLog: NewAuditLister(db),
	}
}
