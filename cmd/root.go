package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/amrvect/amrvect/sim"
	_ "github.com/amrvect/amrvect/sim/dgrid"
)

var (
	// CLI flags for the run
	seed         int64   // Seed for the randomized load balancing strategy
	logLevel     string  // Log verbosity level
	procs        int     // Number of simulation processes (rank goroutines)
	cells        uint64  // Level-0 cell count, laid out as a square
	maxRefLvl    int     // Maximum refinement level
	balancer     string  // Load balancing strategy name
	cfl          float64 // Fraction of the stable time step actually taken
	tmax         float64 // Simulated time horizon
	adaptEvery   int     // Steps between adaptations (-1 never, 0 setup only)
	balanceEvery int     // Steps between load balances (-1 never, 0 setup only)
	saveEvery    int     // Steps between snapshots (-1 never, 0 first and last)
	outputPrefix string  // Base name for snapshot files

	// CLI flags for adaptation thresholds
	relativeDiff        float64 // Per-level relative difference tolerance
	diffThreshold       float64 // Absolute difference floor for refinement
	unrefineSensitivity float64 // Hysteresis multiplier for unrefinement

	scenarioFile string // Optional YAML preset file
	scenario     string // Preset name within the scenario file
	metricsAddr  string // Listen address for Prometheus metrics, empty to disable
	verbose      bool   // Per-step progress logging
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "amrvect",
	Short: "Distributed advection simulation on an adaptively refined grid",
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the advection simulation",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg := sim.Config{
			Grid: sim.GridConfig{
				Cells:              cells,
				MaxRefinementLevel: maxRefLvl,
				LoadBalancer:       balancer,
			},
			Adapt: sim.AdaptConfig{
				RelativeDiff:        relativeDiff,
				DiffThreshold:       diffThreshold,
				UnrefineSensitivity: unrefineSensitivity,
			},
			CFL:          cfl,
			Tmax:         tmax,
			AdaptEvery:   adaptEvery,
			BalanceEvery: balanceEvery,
			SaveEvery:    saveEvery,
			Procs:        procs,
			Seed:         seed,
			OutputPrefix: outputPrefix,
			Verbose:      verbose,
		}
		if scenarioFile != "" {
			applyScenario(&cfg, loadScenarios(scenarioFile), scenario)
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		var collector *sim.Collector
		if metricsAddr != "" {
			collector = sim.NewCollector(prometheus.DefaultRegisterer)
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					logrus.Fatalf("Metrics server failed: %v", err)
				}
			}()
		}

		logrus.Infof("Starting simulation with %d cells, %d processes, tmax=%v, balancer=%s",
			cfg.Grid.Cells, cfg.Procs, cfg.Tmax, cfg.Grid.LoadBalancer)

		startTime := time.Now()
		report, err := sim.RunGroup(cfg, sim.RotatingFlow(), collector)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}

		fmt.Print(report.Format())
		fmt.Printf("Wall clock time: %v\n", time.Since(startTime).Round(time.Millisecond))

		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for the randomized load balancing strategy")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().IntVar(&procs, "procs", 1, "Number of simulation processes")

	// Grid configs
	runCmd.Flags().Uint64Var(&cells, "cells", 400, "Number of unrefined cells, laid out as a square")
	runCmd.Flags().IntVar(&maxRefLvl, "max-ref-lvl", 2, "Maximum refinement level")
	runCmd.Flags().StringVar(&balancer, "balancer", "RCB", "Load balancing strategy (RCB, BLOCK, RANDOM)")

	// Stepping configs
	runCmd.Flags().Float64Var(&cfl, "cfl", 0.5, "Fraction of the stable time step to take each step")
	runCmd.Flags().Float64Var(&tmax, "tmax", 1.0, "Simulated time horizon")
	runCmd.Flags().IntVar(&adaptEvery, "adapt-n", 1, "Steps between adaptations (-1 never, 0 setup only)")
	runCmd.Flags().IntVar(&balanceEvery, "balance-n", 25, "Steps between load balances (-1 never, 0 setup only)")
	runCmd.Flags().IntVar(&saveEvery, "save-n", -1, "Steps between snapshots (-1 never, 0 first and last)")
	runCmd.Flags().StringVar(&outputPrefix, "output-prefix", "advection_", "Base name for snapshot files")

	// Adaptation thresholds
	runCmd.Flags().Float64Var(&relativeDiff, "relative-diff", 0.025, "Per-level relative difference tolerance for refinement")
	runCmd.Flags().Float64Var(&diffThreshold, "diff-threshold", 0.25, "Absolute difference floor for refinement")
	runCmd.Flags().Float64Var(&unrefineSensitivity, "unrefine-sensitivity", 0.5, "Fraction of the refine threshold below which cells unrefine")

	// Presets and observability
	runCmd.Flags().StringVar(&scenarioFile, "scenario-file", "", "YAML file with scenario presets")
	runCmd.Flags().StringVar(&scenario, "scenario", "", "Scenario preset name within the scenario file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for Prometheus metrics (empty disables)")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "Log every completed step")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
