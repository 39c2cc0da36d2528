package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/service/audit"
	schemafs "github.com/animus-labs/qadash/internal/service/catalog/schema"
)

var (
	importSchema *jsonschema.Schema
	compileOnce  sync.Once
	compileErr   error
)

func compileImportSchema() error {
	compileOnce.Do(func() {
		data, err := schemafs.FS.ReadFile("import.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("read import schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal import schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("import.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add import schema resource: %w", err)
			return
		}
		importSchema, err = compiler.Compile("import.schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile import schema: %w", err)
		}
	})
	return compileErr
}

// ImportDocument is a nested catalog of suites and cases.
type ImportDocument struct {
	Suites []ImportSuite `yaml:"suites" json:"suites"`
}

type ImportSuite struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Cases       []ImportCase  `yaml:"cases,omitempty" json:"cases,omitempty"`
	Suites      []ImportSuite `yaml:"suites,omitempty" json:"suites,omitempty"`
}

type ImportCase struct {
	Title          string   `yaml:"title" json:"title"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Steps          []string `yaml:"steps,omitempty" json:"steps,omitempty"`
	ExpectedResult string   `yaml:"expected_result,omitempty" json:"expected_result,omitempty"`
	Priority       string   `yaml:"priority,omitempty" json:"priority,omitempty"`
	Status         string   `yaml:"status,omitempty" json:"status,omitempty"`
	Type           string   `yaml:"type,omitempty" json:"type,omitempty"`
	Module         string   `yaml:"module,omitempty" json:"module,omitempty"`
}

type ImportReport struct {
	Suites  []domain.Suite    `json:"suites"`
	Cases   []domain.TestCase `json:"-"`
	CaseIDs []string          `json:"case_ids"`
}

// ParseImport decodes a YAML (or JSON) catalog and validates it against the
// embedded schema before any typed decoding happens.
func ParseImport(data []byte) (ImportDocument, error) {
	if err := compileImportSchema(); err != nil {
		return ImportDocument{}, err
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ImportDocument{}, invalid(fmt.Errorf("parse import: %w", err))
	}
	if raw == nil {
		return ImportDocument{}, invalid(errors.New("import document is empty"))
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return ImportDocument{}, invalid(fmt.Errorf("import is not representable as JSON: %w", err))
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return ImportDocument{}, invalid(err)
	}
	if err := importSchema.Validate(inst); err != nil {
		return ImportDocument{}, invalid(fmt.Errorf("import validation failed: %w", err))
	}
	var doc ImportDocument
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return ImportDocument{}, invalid(err)
	}
	return doc, nil
}

// Count returns the number of suites and cases the document will create.
func (d ImportDocument) Count() int {
	var walk func([]ImportSuite) int
	walk = func(suites []ImportSuite) int {
		n := 0
		for _, s := range suites {
			n += 1 + len(s.Cases) + walk(s.Suites)
		}
		return n
	}
	return walk(d.Suites)
}

// Import creates the document's suites and cases under parentSuiteID (empty
// for the project root), parents before children. It stops at the first
// failure; what was created so far stays and is listed in the report.
func (s *Service) Import(ctx context.Context, info audit.Info, projectID, parentSuiteID string, doc ImportDocument, progress func(done, total int)) (ImportReport, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return ImportReport{}, err
	}
	total := doc.Count()
	done := 0
	step := func() {
		done++
		if progress != nil {
			progress(done, total)
		}
	}
	var report ImportReport
	var walk func(parent string, suites []ImportSuite) error
	walk = func(parent string, suites []ImportSuite) error {
		for _, in := range suites {
			if err := ctx.Err(); err != nil {
				return err
			}
			suite, err := s.CreateSuite(ctx, info, projectID, SuiteInput{
				ParentSuiteID: parent,
				Name:          in.Name,
				Description:   in.Description,
			})
			if err != nil {
				return fmt.Errorf("suite %q: %w", in.Name, err)
			}
			report.Suites = append(report.Suites, suite)
			step()
			for _, c := range in.Cases {
				tc, err := s.CreateCase(ctx, info, projectID, CaseInput{
					SuiteID:        suite.ID,
					Title:          c.Title,
					Description:    c.Description,
					Steps:          c.Steps,
					ExpectedResult: c.ExpectedResult,
					Priority:       c.Priority,
					Status:         c.Status,
					Type:           c.Type,
					Module:         c.Module,
				})
				if err != nil {
					return fmt.Errorf("case %q in suite %q: %w", c.Title, in.Name, err)
				}
				report.Cases = append(report.Cases, tc)
				report.CaseIDs = append(report.CaseIDs, tc.ID)
				step()
			}
			if err := walk(suite.ID, in.Suites); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(parentSuiteID, doc.Suites); err != nil {
		return report, err
	}
	s.logger.Info("catalog imported", "project_id", projectID, "suites", len(report.Suites), "cases", len(report.Cases))
	return report, nil
}
