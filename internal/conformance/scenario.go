package conformance

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/harnessforge/internal/candidate"
)

// Scenario is one conformance scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Targets are the target functions of the synthetic project.
	Targets []string `yaml:"targets"`

	Engine EngineSettings `yaml:"engine,omitempty"`

	// Seeds open lineages before the run starts. A seed with Source skips
	// the generation call.
	Seeds []Seed `yaml:"seeds"`

	Validator ValidatorScript `yaml:"validator"`
	Generator GeneratorScript `yaml:"generator,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// EngineSettings overrides engine configuration. Unset fields keep the
// engine defaults; budgets are pointers because zero is meaningful.
type EngineSettings struct {
	Concurrency        int    `yaml:"concurrency,omitempty"`
	QueueSize          int    `yaml:"queue_size,omitempty"`
	GenerationSlots    int    `yaml:"generation_slots,omitempty"`
	MaxCombinationSize int    `yaml:"max_combination_size,omitempty"`
	RepairBudget       *int   `yaml:"repair_budget,omitempty"`
	MutationRounds     *int   `yaml:"mutation_rounds,omitempty"`
	PlateauThreshold   *int   `yaml:"plateau_threshold,omitempty"`
	Deadline           string `yaml:"deadline,omitempty"`
}

// Seed is one initial lineage.
type Seed struct {
	Targets []string `yaml:"targets,omitempty"`
	Source  string   `yaml:"source,omitempty"`
}

// ValidatorScript decides validation outcomes. The first rule whose
// Contains appears in the candidate source wins.
type ValidatorScript struct {
	Default *ResultSpec `yaml:"default,omitempty"`
	Rules   []RuleSpec  `yaml:"rules,omitempty"`
	Delay   string      `yaml:"delay,omitempty"`
}

// RuleSpec maps a source marker to a result.
type RuleSpec struct {
	Contains string     `yaml:"contains"`
	Result   ResultSpec `yaml:"result"`
}

// ResultSpec is a scripted validation result.
type ResultSpec struct {
	Outcome    candidate.Outcome `yaml:"outcome"`
	Phase      candidate.Phase   `yaml:"phase,omitempty"`
	Diagnostic string            `yaml:"diagnostic,omitempty"`
	Coverage   map[string]uint64 `yaml:"coverage,omitempty"`
	Corpus     []string          `yaml:"corpus,omitempty"`
}

// GeneratorScript makes the generation collaborator fail.
type GeneratorScript struct {
	SynthesizeError string `yaml:"synthesize_error,omitempty"`
	RepairError     string `yaml:"repair_error,omitempty"`
}

// Assertion checks one property of a finished run.
type Assertion struct {
	Type     string             `yaml:"type"`
	Lineage  string             `yaml:"lineage,omitempty"`
	Kind     string             `yaml:"kind,omitempty"`
	Status   candidate.Status   `yaml:"status,omitempty"`
	Tag      string             `yaml:"tag,omitempty"`
	Reason   string             `yaml:"reason,omitempty"`
	Statuses []candidate.Status `yaml:"statuses,omitempty"`
	To       candidate.Status   `yaml:"to,omitempty"`
	Location string             `yaml:"location,omitempty"`
	Hits     uint64             `yaml:"hits,omitempty"`
	Contains string             `yaml:"contains,omitempty"`
	Count    int                `yaml:"count"`
}

// Assertion types.
const (
	AssertArtifact        = "artifact"
	AssertArtifactCount   = "artifact_count"
	AssertTransitions     = "transitions"
	AssertTransitionCount = "transition_count"
	AssertCoverage        = "coverage"
	AssertValidations     = "validations"
	AssertRepairPrompt    = "repair_prompt"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Targets) == 0 {
		return fmt.Errorf("targets list is required and must be non-empty")
	}
	if len(s.Seeds) == 0 {
		return fmt.Errorf("seeds list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, d := range []struct{ field, value string }{
		{"engine.deadline", s.Engine.Deadline},
		{"validator.delay", s.Validator.Delay},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.field, err)
		}
	}

	for i, seed := range s.Seeds {
		for _, fn := range seed.Targets {
			if !slices.Contains(s.Targets, fn) {
				return fmt.Errorf("seeds[%d]: unknown target %q", i, fn)
			}
		}
	}
	if s.Validator.Default != nil {
		if err := validateResult("validator.default", s.Validator.Default); err != nil {
			return err
		}
	}
	for i, r := range s.Validator.Rules {
		if r.Contains == "" {
			return fmt.Errorf("validator.rules[%d]: contains is required", i)
		}
		if err := validateResult(fmt.Sprintf("validator.rules[%d]", i), &r.Result); err != nil {
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

func validateResult(field string, r *ResultSpec) error {
	switch r.Outcome {
	case candidate.OutcomeCompileError, candidate.OutcomeRuntimeCrash, candidate.OutcomeTimeout,
		candidate.OutcomeSuccess, candidate.OutcomeSandboxViolation:
		return nil
	case "":
		return fmt.Errorf("%s: outcome is required", field)
	default:
		return fmt.Errorf("%s: unknown outcome %q", field, r.Outcome)
	}
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertArtifact:
		if a.Lineage == "" {
			return fmt.Errorf("assertions[%d]: lineage is required for artifact", index)
		}
	case AssertArtifactCount, AssertValidations:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertTransitions:
		if a.Lineage == "" || len(a.Statuses) == 0 {
			return fmt.Errorf("assertions[%d]: lineage and statuses are required for transitions", index)
		}
	case AssertTransitionCount:
		if a.To == "" {
			return fmt.Errorf("assertions[%d]: to is required for transition_count", index)
		}
	case AssertCoverage:
		if a.Location == "" {
			return fmt.Errorf("assertions[%d]: location is required for coverage", index)
		}
	case AssertRepairPrompt:
		if a.Contains == "" {
			return fmt.Errorf("assertions[%d]: contains is required for repair_prompt", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
