package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultClient is the client a scenario drives when it names none.
const DefaultClient = "c1"

// Scenario defines a layout scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Client is the client id steps act on unless they name their own.
	Client string `yaml:"client,omitempty"`

	// IDs are handed out to new cards in order. Once exhausted, cards get
	// card-1, card-2, ...
	IDs []string `yaml:"ids,omitempty"`

	// Stored is the document the repository holds for Client before the
	// scenario starts, in any stored shape. Empty means nothing is stored.
	Stored string `yaml:"stored,omitempty"`

	// Steps run in order after Client has been loaded.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation against the engine or the scheduler clock.
type Step struct {
	Op string `yaml:"op"`

	// Client overrides the scenario client for this step.
	Client string `yaml:"client,omitempty"`

	ID string `yaml:"id,omitempty"`

	// To is the target card of a reorder.
	To string `yaml:"to,omitempty"`

	// Spec is the card payload. It is converted to JSON.
	Spec any `yaml:"spec,omitempty"`

	Span  int     `yaml:"span,omitempty"`
	Row   int     `yaml:"row,omitempty"`
	Col   int     `yaml:"col,omitempty"`
	Title *string `yaml:"title,omitempty"`

	// Document is the raw stored document for hydrate.
	Document string `yaml:"document,omitempty"`

	// Duration is how far advance moves the clock, e.g. "650ms".
	Duration string `yaml:"duration,omitempty"`

	// Expect checks whether the engine applied the step.
	// If nil, the outcome is not checked.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	Applied *bool `yaml:"applied"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Client defaults to the scenario client.
	Client string `yaml:"client,omitempty"`

	// ID is the card checked by placement and absent.
	ID string `yaml:"id,omitempty"`

	// Span, Row and Col are the expected placement. Zero is not checked.
	Span int `yaml:"span,omitempty"`
	Row  int `yaml:"row,omitempty"`
	Col  int `yaml:"col,omitempty"`

	// IDs is the expected list order (used by order).
	IDs []string `yaml:"ids,omitempty"`

	// Count is the expected number of cards (count) or saves (saves).
	Count *int `yaml:"count,omitempty"`

	// Title is the expected report title (used by title).
	Title *string `yaml:"title,omitempty"`

	// Final requires the last save to equal the final report (used by saves).
	Final bool `yaml:"final,omitempty"`
}

// Step operations.
const (
	OpHydrate  = "hydrate"
	OpSetTitle = "set_title"
	OpAdd      = "add"
	OpAddAt    = "add_at"
	OpRemove   = "remove"
	OpReorder  = "reorder"
	OpSetSpan  = "set_span"
	OpSetSpec  = "set_spec"
	OpPlace    = "place"
	OpAdvance  = "advance"
	OpFlush    = "flush"
)

// Assertion type constants.
const (
	AssertPlacement = "placement"
	AssertOrder     = "order"
	AssertCount     = "count"
	AssertTitle     = "title"
	AssertAbsent    = "absent"
	AssertSaves     = "saves"
)

var knownOps = map[string]bool{
	OpHydrate: true, OpSetTitle: true, OpAdd: true, OpAddAt: true,
	OpRemove: true, OpReorder: true, OpSetSpan: true, OpSetSpec: true,
	OpPlace: true, OpAdvance: true, OpFlush: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Client == "" {
		scenario.Client = DefaultClient
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by file
// name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list scenarios: %w", err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks required fields.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 && s.Stored == "" {
		return fmt.Errorf("steps list is required unless a stored document is given")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step *Step) error {
	if step.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", i)
	}
	if !knownOps[step.Op] {
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}

	switch step.Op {
	case OpHydrate:
		if step.Document == "" {
			return fmt.Errorf("steps[%d]: hydrate requires 'document' field", i)
		}
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance requires a valid 'duration': %w", i, err)
		}
		if d <= 0 {
			return fmt.Errorf("steps[%d]: advance duration must be positive", i)
		}
	}

	if step.Expect != nil {
		if step.Op == OpAdvance || step.Op == OpFlush {
			return fmt.Errorf("steps[%d].expect: %s has no outcome to check", i, step.Op)
		}
		if step.Expect.Applied == nil {
			return fmt.Errorf("steps[%d].expect: applied is required", i)
		}
	}
	return nil
}

// validateAssertion checks type-specific required fields.
func validateAssertion(i int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", i)
	}

	switch a.Type {
	case AssertPlacement:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: placement requires 'id' field", i)
		}
		if a.Span == 0 && a.Row == 0 && a.Col == 0 {
			return fmt.Errorf("assertions[%d]: placement requires at least one of 'span', 'row', 'col'", i)
		}

	case AssertOrder:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: order requires 'ids' field", i)
		}

	case AssertCount, AssertSaves:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: %s requires 'count' field", i, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: %s count must be non-negative", i, a.Type)
		}

	case AssertTitle:
		if a.Title == nil {
			return fmt.Errorf("assertions[%d]: title requires 'title' field", i)
		}

	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: absent requires 'id' field", i)
		}

	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
	}

	return nil
}
