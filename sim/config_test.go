package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// validConfig returns a configuration that passes Validate; tests mutate
// single fields to probe individual rules.
func validConfig() Config {
	return Config{
		Grid: GridConfig{
			Cells:              100,
			MaxRefinementLevel: 2,
			LoadBalancer:       "RCB",
		},
		Adapt: AdaptConfig{
			RelativeDiff:        0.025,
			DiffThreshold:       0.25,
			UnrefineSensitivity: 0.5,
		},
		CFL:          0.5,
		Tmax:         1.0,
		AdaptEvery:   1,
		BalanceEvery: 25,
		SaveEvery:    -1,
		Procs:        2,
	}
}

func TestConfigValidate_Accepts(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfigValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cfl below zero", func(c *Config) { c.CFL = -0.1 }},
		{"cfl above one", func(c *Config) { c.CFL = 1.5 }},
		{"adapt cadence below -1", func(c *Config) { c.AdaptEvery = -2 }},
		{"balance cadence below -1", func(c *Config) { c.BalanceEvery = -5 }},
		{"save cadence below -1", func(c *Config) { c.SaveEvery = -2 }},
		{"zero tmax", func(c *Config) { c.Tmax = 0 }},
		{"negative tmax", func(c *Config) { c.Tmax = -1 }},
		{"infinite tmax", func(c *Config) { c.Tmax = math.Inf(1) }},
		{"zero procs", func(c *Config) { c.Procs = 0 }},
		{"zero cells", func(c *Config) { c.Grid.Cells = 0 }},
		{"negative max level", func(c *Config) { c.Grid.MaxRefinementLevel = -1 }},
		{"zero relative diff", func(c *Config) { c.Adapt.RelativeDiff = 0 }},
		{"zero diff threshold", func(c *Config) { c.Adapt.DiffThreshold = 0 }},
		{"zero unrefine sensitivity", func(c *Config) { c.Adapt.UnrefineSensitivity = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a valid configuration with one field broken
			cfg := validConfig()
			tc.mutate(&cfg)

			// THEN validation rejects it before any stepping
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCadence_NeverNeverFires(t *testing.T) {
	// GIVEN cadence -1
	cfg := validConfig()
	cfg.AdaptEvery = CadenceNever
	cfg.BalanceEvery = CadenceNever
	cfg.SaveEvery = CadenceNever

	// THEN no step is due
	for step := uint64(0); step < 10; step++ {
		assert.False(t, cfg.adaptDue(step))
		assert.False(t, cfg.balanceDue(step))
		assert.False(t, cfg.saveDue(step))
	}
}

func TestCadence_SetupOnlyNeverFiresDuringStepping(t *testing.T) {
	// GIVEN cadence 0
	cfg := validConfig()
	cfg.AdaptEvery = CadenceSetupOnly
	cfg.BalanceEvery = CadenceSetupOnly

	// THEN the periodic check never fires; setup handles it separately
	for step := uint64(0); step < 10; step++ {
		assert.False(t, cfg.adaptDue(step))
		assert.False(t, cfg.balanceDue(step))
	}
}

func TestCadence_PeriodicFiresOnMultiples(t *testing.T) {
	// GIVEN cadence 3
	cfg := validConfig()
	cfg.AdaptEvery = 3

	// THEN only multiples of 3 are due
	assert.True(t, cfg.adaptDue(0))
	assert.False(t, cfg.adaptDue(1))
	assert.False(t, cfg.adaptDue(2))
	assert.True(t, cfg.adaptDue(3))
	assert.True(t, cfg.adaptDue(6))
}
