package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioNotFoundError is returned when a scenario directory holds no
// scenario files.
type ScenarioNotFoundError struct {
	Dir string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("no scenario files (*.yaml) in %s", e.Dir)
}

// DiscoverScenarios returns the *.yaml files in dir, sorted by name.
func DiscoverScenarios(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scenario directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &ScenarioNotFoundError{Dir: dir}
	}
	sort.Strings(paths)
	return paths, nil
}

// SuiteResult collects the results of a scenario directory.
type SuiteResult struct {
	Scenarios []*Scenario
	Results   []*Result
}

// Pass reports whether every scenario passed.
func (s *SuiteResult) Pass() bool {
	for _, r := range s.Results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// RunDir loads and runs every scenario in dir. Scenario names must be
// unique since they name golden files.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := DiscoverScenarios(dir)
	if err != nil {
		return nil, err
	}

	suite := &SuiteResult{}
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, ok := seen[scenario.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", path, scenario.Name, prev)
		}
		seen[scenario.Name] = path

		result, err := Run(scenario)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		suite.Scenarios = append(suite.Scenarios, scenario)
		suite.Results = append(suite.Results, result)
	}
	return suite, nil
}
