// Package auditlog seals audit events with a content hash and writes them to
// the append-only audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
)

// ErrTampered reports a stored event whose content no longer matches its hash.
var ErrTampered = errors.New("audit event integrity mismatch")

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at,
	actor,
	action,
	resource_type,
	resource_id,
	project_id,
	request_id,
	ip,
	user_agent,
	payload,
	integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING event_id`

// Seal normalizes event, validates it and fills IntegritySHA256. It returns
// the payload bytes the hash covers. A zero OccurredAt is set from now.
func Seal(event domain.AuditEvent, now time.Time) (domain.AuditEvent, []byte, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.Actor = strings.TrimSpace(event.Actor)
	event.Action = strings.TrimSpace(event.Action)
	event.ResourceType = strings.TrimSpace(event.ResourceType)
	event.ResourceID = strings.TrimSpace(event.ResourceID)
	event.ProjectID = strings.TrimSpace(event.ProjectID)
	event.RequestID = strings.TrimSpace(event.RequestID)
	event.UserAgent = strings.TrimSpace(event.UserAgent)
	if event.Payload == nil {
		event.Payload = domain.Metadata{}
	}
	if err := event.Validate(); err != nil {
		return domain.AuditEvent{}, nil, err
	}
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, nil, fmt.Errorf("marshal payload: %w", err)
	}
	sum, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return domain.AuditEvent{}, nil, err
	}
	event.IntegritySHA256 = sum
	return event, payloadJSON, nil
}

// Verify recomputes the hash of a stored event. Events written before
// sealing existed carry no hash and verify as ok.
func Verify(event domain.AuditEvent) error {
	if event.IntegritySHA256 == "" {
		return nil
	}
	payload := event.Payload
	if payload == nil {
		payload = domain.Metadata{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	sum, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return err
	}
	if sum != event.IntegritySHA256 {
		return fmt.Errorf("%w: event %d", ErrTampered, event.EventID)
	}
	return nil
}

// Insert seals event and stores it, returning it with EventID set.
func Insert(ctx context.Context, q QueryRower, event domain.AuditEvent) (domain.AuditEvent, error) {
	if q == nil {
		return domain.AuditEvent{}, errors.New("queryer is required")
	}
	sealed, payloadJSON, err := Seal(event, time.Now().UTC())
	if err != nil {
		return domain.AuditEvent{}, err
	}
	err = q.QueryRowContext(
		ctx,
		insertEventQuery,
		sealed.OccurredAt,
		sealed.Actor,
		sealed.Action,
		sealed.ResourceType,
		sealed.ResourceID,
		nullString(sealed.ProjectID),
		nullString(sealed.RequestID),
		nullString(ipString(sealed.IP)),
		nullString(sealed.UserAgent),
		payloadJSON,
		sealed.IntegritySHA256,
	).Scan(&sealed.EventID)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("insert audit event: %w", err)
	}
	return sealed, nil
}

// ComputeIntegritySHA256 hashes the canonical JSON form of an event so that
// tampering with a stored row can be detected. EventID is not covered.
func ComputeIntegritySHA256(event domain.AuditEvent, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		ProjectID    string          `json:"project_id,omitempty"`
		RequestID    string          `json:"request_id,omitempty"`
		IP           string          `json:"ip,omitempty"`
		UserAgent    string          `json:"user_agent,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt:   event.OccurredAt.UTC().Truncate(time.Microsecond),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		ProjectID:    strings.TrimSpace(event.ProjectID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ipString(event.IP),
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	s := strings.TrimSpace(ip.String())
	if s == "<nil>" {
		return ""
	}
	return s
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
