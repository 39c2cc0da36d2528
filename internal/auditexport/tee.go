package auditexport

import (
	"context"
	"log/slog"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/platform/auditlog"
	"github.com/animus-labs/qadash/internal/repo"
)

// Tee mirrors every successfully appended event to an exporter. The event is
// sealed first so the stored and mirrored copies carry the same hash. Export
// failures are logged; the append already happened.
type Tee struct {
	Appender repo.AuditEventAppender
	Exporter Exporter
	Logger   *slog.Logger
}

func (t Tee) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	sealed, _, err := auditlog.Seal(event, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	id, err := t.Appender.Append(ctx, sealed)
	if err != nil || t.Exporter == nil {
		return id, err
	}
	sealed.EventID = id
	if err := t.Exporter.Export(ctx, sealed); err != nil && t.Logger != nil {
		t.Logger.Warn("audit export failed", "event_id", id, "action", sealed.Action, "error", err)
	}
	return id, nil
}
