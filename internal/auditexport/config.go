package auditexport

import (
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/platform/env"
)

// Config controls where appended audit events are mirrored.
type Config struct {
	Format      string
	Destination string
}

const (
	DestinationNone   = "none"
	DestinationStdout = "stdout"
)

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Format:      env.String("QA_AUDIT_EXPORT_FORMAT", "ndjson"),
		Destination: env.String("QA_AUDIT_EXPORT_DESTINATION", DestinationNone),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	format := strings.ToLower(strings.TrimSpace(c.Format))
	destination := strings.ToLower(strings.TrimSpace(c.Destination))
	if format == "" {
		format = "ndjson"
	}
	if destination == "" {
		destination = DestinationNone
	}
	if format != "ndjson" {
		return fmt.Errorf("unsupported audit export format: %s", format)
	}
	if destination != DestinationNone && destination != DestinationStdout {
		return fmt.Errorf("unsupported audit export destination: %s", destination)
	}
	return nil
}

// Mirrors reports whether appended events are exported at all.
func (c Config) Mirrors() bool {
	return strings.ToLower(strings.TrimSpace(c.Destination)) == DestinationStdout
}
