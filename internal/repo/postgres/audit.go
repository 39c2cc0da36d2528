package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/auditexport"
	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/platform/auditlog"
)

type AuditAppender struct {
	db       auditlog.QueryRower
	exporter auditexport.Exporter
	now      func() time.Time
}

func NewAuditAppender(db auditlog.QueryRower, exporter auditexport.Exporter) *AuditAppender {
	if db == nil {
		return nil
	}
	if exporter == nil {
		exporter = auditexport.NoopExporter{}
	}
	return &AuditAppender{db: db, exporter: exporter, now: time.Now}
}

func (a *AuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("audit appender not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now().UTC()
	}
	stored, err := auditlog.Insert(ctx, a.db, event)
	if err != nil {
		return 0, fmt.Errorf("append audit event: %w", err)
	}
	if err := a.exporter.Export(ctx, stored); err != nil {
		return stored.EventID, fmt.Errorf("export audit event: %w", err)
	}
	return stored.EventID, nil
}

type AuditLister struct {
	db DB
}

const listAuditByResourceQuery = `SELECT event_id, occurred_at, actor, action, resource_type, resource_id, project_id,
	request_id, host(ip), user_agent, payload, integrity_sha256
 FROM audit_events
 WHERE resource_type = $1 AND resource_id = $2
 ORDER BY event_id ASC`

func NewAuditLister(db DB) *AuditLister {
	if db == nil {
		return nil
	}
	return &AuditLister{db: db}
}

func (l *AuditLister) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]domain.AuditEvent, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("audit lister not initialized")
	}
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	if resourceType == "" || resourceID == "" {
		return nil, errors.New("resource type and id are required")
	}
	query, args := appendLimit(listAuditByResourceQuery, []any{resourceType, resourceID}, limit)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var e domain.AuditEvent
		var projectID, requestID, ip, userAgent sql.NullString
		var payload []byte
		if err := rows.Scan(
			&e.EventID,
			&e.OccurredAt,
			&e.Actor,
			&e.Action,
			&e.ResourceType,
			&e.ResourceID,
			&projectID,
			&requestID,
			&ip,
			&userAgent,
			&payload,
			&e.IntegritySHA256,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		meta, err := decodeMetadata(payload)
		if err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.ProjectID = projectID.String
		e.RequestID = requestID.String
		e.IP = net.ParseIP(ip.String)
		e.UserAgent = userAgent.String
		e.Payload = meta
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
