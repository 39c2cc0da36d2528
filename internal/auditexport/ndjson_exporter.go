package auditexport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/platform/auditlog"
)

// NDJSONExporter writes audit events as newline-delimited JSON. It is safe
// for concurrent use.
type NDJSONExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewNDJSONExporter(w io.Writer) *NDJSONExporter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	return &NDJSONExporter{enc: enc}
}

func (e *NDJSONExporter) Export(ctx context.Context, event domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(exportEventFromDomain(event))
}

// ExportAll writes events in order and stops at the first failure.
func ExportAll(ctx context.Context, exporter Exporter, events []domain.AuditEvent) error {
	for _, event := range events {
		if err := exporter.Export(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Integrity states reported per exported line.
const (
	IntegrityOK       = "ok"
	IntegrityMismatch = "mismatch"
	IntegrityUnsealed = "unsealed"
)

type exportEvent struct {
	EventID         int64           `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	ResourceType    string          `json:"resource_type"`
	ResourceID      string          `json:"resource_id"`
	ProjectID       string          `json:"project_id,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	IP              string          `json:"ip,omitempty"`
	UserAgent       string          `json:"user_agent,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256,omitempty"`
	Integrity       string          `json:"integrity"`
}

func exportEventFromDomain(event domain.AuditEvent) exportEvent {
	payload := []byte("{}")
	if len(event.Payload) > 0 {
		if raw, err := json.Marshal(event.Payload); err == nil {
			payload = raw
		}
	}
	out := exportEvent{
		EventID:         event.EventID,
		OccurredAt:      event.OccurredAt.UTC(),
		Actor:           event.Actor,
		Action:          event.Action,
		ResourceType:    event.ResourceType,
		ResourceID:      event.ResourceID,
		ProjectID:       event.ProjectID,
		RequestID:       event.RequestID,
		UserAgent:       event.UserAgent,
		Payload:         payload,
		IntegritySHA256: event.IntegritySHA256,
		Integrity:       integrityState(event),
	}
	if event.IP != nil {
		out.IP = event.IP.String()
	}
	return out
}

func integrityState(event domain.AuditEvent) string {
	switch {
	case event.IntegritySHA256 == "":
		return IntegrityUnsealed
	case auditlog.Verify(event) != nil:
		return IntegrityMismatch
	default:
		return IntegrityOK
	}
}
