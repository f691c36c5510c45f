package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/issai/internal/entity"
)

// Scenario seeds a store, exports a subgraph, optionally imports the result
// and asserts on what happened.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed lists the records of the source store, created in order.
	// Links refer to earlier records by handle.
	Seed []SeedRecord `yaml:"seed"`

	// Delete lists handles removed after seeding, leaving dangling links.
	Delete []string `yaml:"delete,omitempty"`

	// Attachments maps attachment paths to their content.
	Attachments map[string]string `yaml:"attachments,omitempty"`

	// Export exports the subgraph rooted at a seeded record.
	Export *ExportStep `yaml:"export,omitempty"`

	// Import imports the exported document, or Document when no export runs.
	Import *ImportStep `yaml:"import,omitempty"`

	// Assertions validate the results and the final store.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is one record of the source store.
type SeedRecord struct {
	// Handle names the record within the scenario.
	Handle string              `yaml:"id"`
	Kind   string              `yaml:"kind"`
	Key    map[string]any      `yaml:"key"`
	Fields map[string]any      `yaml:"fields,omitempty"`
	Links  map[string][]string `yaml:"links,omitempty"`
}

// ExportStep configures the export.
type ExportStep struct {
	// Root is the handle of the seeded root record.
	Root           string `yaml:"root"`
	IncludeResults bool   `yaml:"include_results,omitempty"`
	Version        string `yaml:"version,omitempty"`
	Build          string `yaml:"build,omitempty"`
	Attachments    string `yaml:"attachments,omitempty"`
}

// ImportStep configures the import.
type ImportStep struct {
	// Target is "fresh" (default) for an empty store or "source" to import
	// back into the seeded store.
	Target string `yaml:"target,omitempty"`

	// Document is a document file to import instead of the export output.
	// Relative to the scenario file.
	Document string `yaml:"document,omitempty"`

	MergeMode string `yaml:"merge_mode,omitempty"`
	Workers   int    `yaml:"workers,omitempty"`
	DryRun    bool   `yaml:"dry_run,omitempty"`
}

// Import targets.
const (
	TargetFresh  = "fresh"
	TargetSource = "source"
)

// Assertion validates a result or the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind selects the entity kind (export_count, import_tally, final_state).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number (export_count, export_warning).
	Count *int `yaml:"count,omitempty"`

	// Contains is a substring to look for (export_warning, import_error).
	Contains string `yaml:"contains,omitempty"`

	// Tally holds expected import counters by outcome (import_tally).
	Tally map[string]int `yaml:"tally,omitempty"`

	// Where selects records by natural-key fields (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Steps is an expected subsequence of monitor steps (step_order).
	Steps []string `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertExportCount   = "export_count"
	AssertExportWarning = "export_warning"
	AssertImportTally   = "import_tally"
	AssertImportError   = "import_error"
	AssertFinalState    = "final_state"
	AssertStepOrder     = "step_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected, and a relative import document path is
// resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if imp := scenario.Import; imp != nil && imp.Document != "" && !filepath.IsAbs(imp.Document) {
		imp.Document = filepath.Join(filepath.Dir(path), imp.Document)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Export == nil && (s.Import == nil || s.Import.Document == "") {
		return fmt.Errorf("export or import.document is required")
	}

	handles := map[string]entity.Kind{}
	for i, rec := range s.Seed {
		kind, err := entity.ParseKind(rec.Kind)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if rec.Handle == "" {
			return fmt.Errorf("seed[%d]: id is required", i)
		}
		if _, dup := handles[rec.Handle]; dup {
			return fmt.Errorf("seed[%d]: duplicate id %q", i, rec.Handle)
		}
		for name, targets := range rec.Links {
			spec, ok := entity.SchemaOf(kind).Link(name)
			if !ok {
				return fmt.Errorf("seed[%d]: %s has no link %q", i, kind, name)
			}
			for _, h := range targets {
				if handles[h] != spec.Target {
					return fmt.Errorf("seed[%d]: link %q needs an earlier %s, got %q", i, name, spec.Target, h)
				}
			}
		}
		handles[rec.Handle] = kind
	}

	for _, h := range s.Delete {
		if _, ok := handles[h]; !ok {
			return fmt.Errorf("delete: %q is not a seeded id", h)
		}
	}

	if s.Export != nil {
		kind, ok := handles[s.Export.Root]
		if !ok {
			return fmt.Errorf("export.root %q is not a seeded id", s.Export.Root)
		}
		if !kind.Exportable() {
			return fmt.Errorf("export.root %q is a %s, not exportable", s.Export.Root, kind)
		}
	}
	if s.Import != nil {
		switch s.Import.Target {
		case "", TargetFresh, TargetSource:
		default:
			return fmt.Errorf("import.target must be %s or %s, got %q", TargetFresh, TargetSource, s.Import.Target)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertExportCount:
		if a.Kind == "" || a.Count == nil {
			return fmt.Errorf("%s needs kind and count", a.Type)
		}
	case AssertExportWarning:
		if a.Contains == "" && a.Count == nil {
			return fmt.Errorf("%s needs contains or count", a.Type)
		}
	case AssertImportTally:
		if a.Kind == "" || len(a.Tally) == 0 {
			return fmt.Errorf("%s needs kind and tally", a.Type)
		}
	case AssertImportError:
		if a.Contains == "" {
			return fmt.Errorf("%s needs contains", a.Type)
		}
	case AssertFinalState:
		if a.Kind == "" || len(a.Where) == 0 {
			return fmt.Errorf("%s needs kind and where", a.Type)
		}
	case AssertStepOrder:
		if len(a.Steps) == 0 {
			return fmt.Errorf("%s needs steps", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
