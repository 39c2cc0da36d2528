// Package audit records service mutations in the append-only audit log.
package audit

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

// Info describes who triggered a mutation.
type Info struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

type Recorder struct {
	appender repo.AuditEventAppender
	logger   *slog.Logger
}

func NewRecorder(appender repo.AuditEventAppender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{appender: appender, logger: logger}
}

// Record appends one event. The mutation it describes is already durable, so
// a failed append is logged rather than returned.
func (r *Recorder) Record(ctx context.Context, info Info, action, resourceType, resourceID, projectID string, payload domain.Metadata) {
	if r == nil || r.appender == nil {
		return
	}
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		actor = "anonymous"
	}
	if payload == nil {
		payload = domain.Metadata{}
	}
	if svc := strings.TrimSpace(info.Service); svc != "" {
		payload["service"] = svc
	}
	_, err := r.appender.Append(ctx, domain.AuditEvent{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ProjectID:    projectID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		r.logger.Error("audit append failed", "action", action, "resource_type", resourceType, "resource_id", resourceID, "error", err)
	}
}
