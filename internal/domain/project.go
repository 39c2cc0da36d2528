package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var projectCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_-]{1,15}$`)

// Project is the isolation boundary for suites, cases, runs and defects.
type Project struct {
	ID          string
	Name        string
	Code        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}
	if !projectCodePattern.MatchString(p.Code) {
		return fmt.Errorf("project code %q must be 2-16 uppercase letters, digits, '-' or '_'", p.Code)
	}
	return nil
}

// NormalizeProjectCode uppercases and trims a user supplied project key.
func NormalizeProjectCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
