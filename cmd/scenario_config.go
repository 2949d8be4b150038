package cmd

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	sim "github.com/amrvect/amrvect/sim"
)

// Scenario describes one preset in a scenario file. Zero-valued fields
// leave the corresponding CLI flag untouched; cadences use dedicated
// pointers since -1 and 0 are both meaningful.
type Scenario struct {
	Cells               uint64   `yaml:"cells"`
	MaxRefinementLevel  *int     `yaml:"max_ref_lvl"`
	LoadBalancer        string   `yaml:"balancer"`
	CFL                 float64  `yaml:"cfl"`
	Tmax                float64  `yaml:"tmax"`
	AdaptEvery          *int     `yaml:"adapt_n"`
	BalanceEvery        *int     `yaml:"balance_n"`
	SaveEvery           *int     `yaml:"save_n"`
	RelativeDiff        float64  `yaml:"relative_diff"`
	DiffThreshold       float64  `yaml:"diff_threshold"`
	UnrefineSensitivity float64  `yaml:"unrefine_sensitivity"`
}

// ScenarioFile represents the full scenario YAML structure. All top-level
// sections must be listed to satisfy KnownFields(true) strict parsing.
type ScenarioFile struct {
	Version   string              `yaml:"version"`
	Scenarios map[string]Scenario `yaml:"scenarios"`
}

// decodeStrict parses scenario YAML with strict field checking, so a typo
// in a preset fails loudly instead of silently running defaults.
func decodeStrict(data []byte, file *ScenarioFile) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(file)
}

// loadScenarios reads and parses a scenario file.
func loadScenarios(path string) ScenarioFile {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Fatalf("Failed to read scenario file: %v", err)
	}
	var file ScenarioFile
	if err := decodeStrict(data, &file); err != nil {
		logrus.Fatalf("Failed to parse scenario YAML: %v", err)
	}
	return file
}

// applyScenario overlays a named preset on the flag-derived configuration.
func applyScenario(cfg *sim.Config, file ScenarioFile, name string) {
	preset, ok := file.Scenarios[name]
	if !ok {
		logrus.Fatalf("Scenario %q not found in scenario file", name)
	}
	if preset.Cells != 0 {
		cfg.Grid.Cells = preset.Cells
	}
	if preset.MaxRefinementLevel != nil {
		cfg.Grid.MaxRefinementLevel = *preset.MaxRefinementLevel
	}
	if preset.LoadBalancer != "" {
		cfg.Grid.LoadBalancer = preset.LoadBalancer
	}
	if preset.CFL != 0 {
		cfg.CFL = preset.CFL
	}
	if preset.Tmax != 0 {
		cfg.Tmax = preset.Tmax
	}
	if preset.AdaptEvery != nil {
		cfg.AdaptEvery = *preset.AdaptEvery
	}
	if preset.BalanceEvery != nil {
		cfg.BalanceEvery = *preset.BalanceEvery
	}
	if preset.SaveEvery != nil {
		cfg.SaveEvery = *preset.SaveEvery
	}
	if preset.RelativeDiff != 0 {
		cfg.Adapt.RelativeDiff = preset.RelativeDiff
	}
	if preset.DiffThreshold != 0 {
		cfg.Adapt.DiffThreshold = preset.DiffThreshold
	}
	if preset.UnrefineSensitivity != 0 {
		cfg.Adapt.UnrefineSensitivity = preset.UnrefineSensitivity
	}
}
