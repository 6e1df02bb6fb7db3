package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted store/source interleaving with assertions over
// the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Schema is the CUE schema directory, relative to the scenario file.
	Schema string `yaml:"schema"`

	// Deferred queues source callbacks until deliver steps run them.
	Deferred bool `yaml:"deferred,omitempty"`

	// Seed preloads server-side records before any step runs.
	Seed []SeedBlock `yaml:"seed,omitempty"`

	// Steps is the scripted interleaving.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedBlock preloads records of one type into the source.
type SeedBlock struct {
	Type    string           `yaml:"type"`
	Records []map[string]any `yaml:"records"`
}

// Step is a single scripted operation. Which fields apply depends on Op;
// see the package documentation.
type Step struct {
	Op    string         `yaml:"op"`
	Ref   string         `yaml:"ref,omitempty"`
	Type  string         `yaml:"type,omitempty"`
	ID    string         `yaml:"id,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`
	Mode  string         `yaml:"mode,omitempty"`
	Count int            `yaml:"count,omitempty"`
	Value bool           `yaml:"value,omitempty"`
}

// Assertion validates the trace or the final record state.
type Assertion struct {
	// Type selects the assertion kind: record_state, record_data,
	// source_log, source_order or source_count.
	Type string `yaml:"type"`

	// Ref names the record binding (record_state, record_data).
	Ref string `yaml:"ref,omitempty"`

	// Is is the expected status rendering (record_state).
	Is string `yaml:"is,omitempty"`

	// Expect is a data subset to match (record_data).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Line is a substring to find in the source log (source_log,
	// source_count).
	Line string `yaml:"line,omitempty"`

	// Lines are substrings that must match distinct log lines in order
	// (source_order).
	Lines []string `yaml:"lines,omitempty"`

	// Count is the exact number of matching lines (source_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordState = "record_state"
	AssertRecordData  = "record_data"
	AssertSourceLog   = "source_log"
	AssertSourceOrder = "source_order"
	AssertSourceCount = "source_count"
)

// Step op constants.
const (
	OpGet     = "get"
	OpNew     = "new"
	OpSet     = "set"
	OpDestroy = "destroy"
	OpCommit  = "commit"
	OpFlush   = "flush"
	OpDeliver = "deliver"
	OpMode    = "mode"
	OpOffline = "offline"
)

var validOps = map[string]bool{
	OpGet: true, OpNew: true, OpSet: true, OpDestroy: true,
	OpCommit: true, OpFlush: true, OpDeliver: true,
	OpMode: true, OpOffline: true,
}

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown YAML fields are rejected
// so field typos surface as load errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema directory is required")
	}
	if info, err := os.Stat(s.Schema); err != nil || !info.IsDir() {
		return fmt.Errorf("schema directory not found: %s", s.Schema)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, block := range s.Seed {
		if block.Type == "" {
			return fmt.Errorf("seed[%d]: type is required", i)
		}
		if len(block.Records) == 0 {
			return fmt.Errorf("seed[%d]: records must be non-empty", i)
		}
	}

	refs := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, refs); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, refs); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, refs map[string]bool) error {
	if !validOps[step.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}
	switch step.Op {
	case OpGet:
		if step.Type == "" || step.ID == "" {
			return fmt.Errorf("steps[%d]: get needs type and id", index)
		}
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: get needs a ref to bind", index)
		}
		refs[step.Ref] = true
	case OpNew:
		if step.Type == "" {
			return fmt.Errorf("steps[%d]: new needs a type", index)
		}
		if step.Ref == "" {
			return fmt.Errorf("steps[%d]: new needs a ref to bind", index)
		}
		refs[step.Ref] = true
	case OpSet:
		if len(step.Data) == 0 {
			return fmt.Errorf("steps[%d]: set needs data", index)
		}
		fallthrough
	case OpDestroy:
		if step.Ref == "" || !refs[step.Ref] {
			return fmt.Errorf("steps[%d]: %s references unbound ref %q", index, step.Op, step.Ref)
		}
	case OpMode:
		if _, err := parseMode(step.Mode); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	default:
		// commit, flush, deliver, offline: an optional ref must be bound.
		if step.Ref != "" && !refs[step.Ref] {
			return fmt.Errorf("steps[%d]: %s references unbound ref %q", index, step.Op, step.Ref)
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, refs map[string]bool) error {
	switch a.Type {
	case AssertRecordState:
		if a.Ref == "" || !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: record_state references unbound ref %q", index, a.Ref)
		}
		if a.Is == "" {
			return fmt.Errorf("assertions[%d]: record_state needs is", index)
		}
	case AssertRecordData:
		if a.Ref == "" || !refs[a.Ref] {
			return fmt.Errorf("assertions[%d]: record_data references unbound ref %q", index, a.Ref)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: record_data needs expect", index)
		}
	case AssertSourceLog:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: source_log needs line", index)
		}
	case AssertSourceOrder:
		if len(a.Lines) == 0 {
			return fmt.Errorf("assertions[%d]: source_order needs lines", index)
		}
	case AssertSourceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: source_count needs line", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
