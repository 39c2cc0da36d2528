package auditexport

import (
	"context"

	"github.com/animus-labs/qadash/internal/domain"
)

// Exporter sends audit events to external systems.
type Exporter interface {
	Export(ctx context.Context, event domain.AuditEvent) error
}

type NoopExporter struct{}

func (NoopExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	return nil
}
