package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/reshuffle"
	"github.com/roach88/docsync/internal/testutil"
)

// Scenario describes one merge of two histories of a single scope.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario covers.
	Description string `yaml:"description"`

	// Reshuffle names the reshuffler (see reshuffle.ByName). Empty selects
	// the default.
	Reshuffle string `yaml:"reshuffle,omitempty"`

	// Target and Incoming are the two histories in LABEL INDEX:SKIP[@SECONDS]
	// notation.
	Target   []string `yaml:"target"`
	Incoming []string `yaml:"incoming"`

	Expect *Expect `yaml:"expect,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Expect pins the merged history exactly.
type Expect struct {
	IDs     []string `yaml:"ids,omitempty"`
	Indexes []string `yaml:"indexes,omitempty"`

	// Error is an integrity issue code the merge must fail with, for
	// example MISSING_INDEX.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks a property of the merge.
type Assertion struct {
	Type string   `yaml:"type"`
	IDs  []string `yaml:"ids,omitempty"`
}

// Assertion type constants.
const (
	AssertCommutative = "commutative"
	AssertIdempotent  = "idempotent"
	AssertContiguous  = "contiguous"
	AssertOrder       = "order"
	AssertAbsent      = "absent"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := reshuffle.ByName(s.Reshuffle); err != nil {
		return err
	}
	if _, err := ParseHistory(s.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if _, err := ParseHistory(s.Incoming); err != nil {
		return fmt.Errorf("incoming: %w", err)
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCommutative, AssertIdempotent, AssertContiguous:
		if len(a.IDs) > 0 {
			return fmt.Errorf("assertion[%d]: %s takes no ids", index, a.Type)
		}
	case AssertOrder:
		if len(a.IDs) < 2 {
			return fmt.Errorf("assertion[%d]: order requires at least 2 ids", index)
		}
	case AssertAbsent:
		if len(a.IDs) == 0 {
			return fmt.Errorf("assertion[%d]: absent requires ids", index)
		}
	case "":
		return fmt.Errorf("assertion[%d]: type is required", index)
	default:
		return fmt.Errorf("assertion[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// ParseHistory builds operations from LABEL INDEX:SKIP[@SECONDS] lines.
func ParseHistory(lines []string) ([]ir.Operation, error) {
	ops := make([]ir.Operation, 0, len(lines))
	for i, line := range lines {
		op, err := parseOperation(line)
		if err != nil {
			return nil, fmt.Errorf("operation[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperation(line string) (ir.Operation, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return ir.Operation{}, fmt.Errorf("%q: want LABEL INDEX:SKIP[@SECONDS]", line)
	}
	label, pos := fields[0], fields[1]

	var at string
	if i := strings.IndexByte(pos, '@'); i >= 0 {
		pos, at = pos[:i], pos[i+1:]
	}
	rawIndex, rawSkip, ok := strings.Cut(pos, ":")
	if !ok {
		return ir.Operation{}, fmt.Errorf("%q: position must be INDEX:SKIP", line)
	}
	index, err := strconv.ParseInt(rawIndex, 10, 64)
	if err != nil || index < 0 {
		return ir.Operation{}, fmt.Errorf("%q: invalid index", line)
	}
	skip, err := strconv.ParseInt(rawSkip, 10, 64)
	if err != nil || skip < 0 || skip > index {
		return ir.Operation{}, fmt.Errorf("%q: invalid skip", line)
	}

	seconds := int(index)
	if at != "" {
		if seconds, err = strconv.Atoi(at); err != nil {
			return ir.Operation{}, fmt.Errorf("%q: invalid timestamp offset", line)
		}
	}
	return testutil.OpAt(label, index, skip, testutil.Timestamp(seconds)), nil
}
