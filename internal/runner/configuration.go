package runner

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type Scenario struct {
	Version string         `yaml:"version"`
	Name    string         `yaml:"name"`
	URL     string         `yaml:"url"`
	Wait    *ScenarioWait  `yaml:"wait"`
	Steps   []ScenarioStep `yaml:"steps"`
}

type ScenarioWait struct {
	Timeout time.Duration `yaml:"timeout"`
	Poll    time.Duration `yaml:"poll"`
}

type ScenarioStep struct {
	Action      string   `yaml:"action"`
	Description string   `yaml:"description"`
	By          string   `yaml:"by"`
	Value       string   `yaml:"value"`
	Expect      string   `yaml:"expect"`
	Params      []string `yaml:"params"`
	Save        string   `yaml:"save"`
	Retry       int      `yaml:"retry"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return scenario, nil
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks every step names a known action before anything runs.
func (s *Scenario) Validate() error {
	if s.Wait != nil {
		if s.Wait.Timeout < 0 || s.Wait.Poll < 0 || s.Wait.Poll > s.Wait.Timeout {
			return fmt.Errorf("invalid wait %v/%v", s.Wait.Timeout, s.Wait.Poll)
		}
	}
	for i, step := range s.Steps {
		if step.Action == "" {
			return fmt.Errorf("step %d has no action", i+1)
		}
		if _, ok := lookupMethod(step.Action); !ok {
			return fmt.Errorf("step %d: unknown action %q", i+1, step.Action)
		}
		if step.Retry < 0 {
			return fmt.Errorf("step %d: negative retry", i+1)
		}
	}
	return nil
}

// params returns the arguments a step passes to its action.
func (s ScenarioStep) params() []string {
	if len(s.Params) > 0 {
		return s.Params
	}
	params := make([]string, 0, 3)
	if s.By != "" {
		params = append(params, s.By, s.Value)
	} else if s.Value != "" {
		params = append(params, s.Value)
	}
	if s.Expect != "" {
		params = append(params, s.Expect)
	}
	return params
}
