package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cookiechain/internal/tx"
)

// Scenario is a scripted play session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Flow is executed in order; each step can check the resulting view.
	Flow []FlowStep `yaml:"flow"`

	// Assertions run after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one action of the player or the ledger.
type FlowStep struct {
	// Do is the step type, one of the Step* constants.
	Do string `yaml:"do"`

	// Count is the repetition count for click, reject_next and abort_next,
	// and the amount for fund.
	Count int `yaml:"count,omitempty"`

	// Args are the numeric arguments of upgrade and auto_clicker.
	Args []int `yaml:"args,omitempty"`

	// Duration is the clock advance for advance, as a Go duration.
	Duration string `yaml:"duration,omitempty"`

	// Expect is checked against the view after the step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause lists expected view fields. Unset fields are not checked.
type ExpectClause struct {
	Optimistic *int64 `yaml:"optimistic,omitempty"`
	Confirmed  *int64 `yaml:"confirmed,omitempty"`
	Pending    *int   `yaml:"pending,omitempty"`
	Buffered   *int   `yaml:"buffered,omitempty"`

	// Error is a substring the step's error must contain. Without it the
	// step must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the whole run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind, Status and Reason select records (record_count).
	Kind   string `yaml:"kind,omitempty"`
	Status string `yaml:"status,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// Count is the expected number of selected records (record_count).
	Count int `yaml:"count,omitempty"`

	// Expect is compared with the last view (final_view).
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Step types.
const (
	StepInitialize  = "initialize"
	StepClick       = "click"
	StepFlush       = "flush"
	StepFinalize    = "finalize"
	StepRefresh     = "refresh"
	StepRejectNext  = "reject_next"
	StepAbortNext   = "abort_next"
	StepUpgrade     = "upgrade"
	StepAutoClicker = "auto_clicker"
	StepCollect     = "collect"
	StepPrestige    = "prestige"
	StepFund        = "fund"
	StepAdvance     = "advance"
)

// Assertion types.
const (
	AssertNoRegression = "no_regression"
	AssertFinalView    = "final_view"
	AssertRecordCount  = "record_count"
)

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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep) error {
	switch step.Do {
	case "":
		return fmt.Errorf("flow[%d]: do is required", index)
	case StepClick, StepRejectNext, StepAbortNext, StepFund:
		if step.Count <= 0 {
			return fmt.Errorf("flow[%d]: count must be positive for %s", index, step.Do)
		}
	case StepUpgrade:
		if len(step.Args) != 1 {
			return fmt.Errorf("flow[%d]: upgrade takes args [id]", index)
		}
	case StepAutoClicker:
		if len(step.Args) != 2 {
			return fmt.Errorf("flow[%d]: auto_clicker takes args [type, qty]", index)
		}
	case StepAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fmt.Errorf("flow[%d]: advance needs a duration: %w", index, err)
		}
		if d <= 0 {
			return fmt.Errorf("flow[%d]: advance duration must be positive", index)
		}
	case StepInitialize, StepFlush, StepFinalize, StepRefresh, StepCollect, StepPrestige:
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", index, step.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNoRegression:
	case AssertFinalView:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_view", index)
		}
	case AssertRecordCount:
		if a.Kind != "" && !tx.Kind(a.Kind).Valid() {
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
		if st := tx.Status(a.Status); a.Status != "" && !st.Terminal() && !st.InFlight() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
