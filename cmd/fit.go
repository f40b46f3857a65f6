package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/morsefit/internal/config"
	"github.com/cwbudde/morsefit/internal/opt"
)

var (
	fitFlags   = *config.DefaultSettings()
	fitCutoff  float64
	configPath string
)

var fitCmd = &cobra.Command{
	Use:   "fit [flags] CONF...",
	Short: "Fit Morse parameters to a set of configurations",
	Long: `Reads the given configuration files and the initial guesses, then runs the
selected solver trunk by trunk until it converges or the step limit is reached.

Settings can be read from a YAML file with --config; flags given on the
command line override the file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFit,
}

func init() {
	addFitFlags(fitCmd)
	rootCmd.AddCommand(fitCmd)
}

func addFitFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&fitCutoff, "cutoff", 0, "Ignore interactions longer than this distance")
	f.StringVar(&fitFlags.Guess, "guess", config.DefaultGuess, "Initial guess file")
	f.IntVar(&fitFlags.Steps, "steps", config.DefaultSteps, "Maximum number of trunks")
	f.IntVar(&fitFlags.TrunkSize, "trunk-size", config.DefaultTrunkSize, "Solver iterations per trunk")
	f.Float64Var(&fitFlags.Factor, "factor", config.DefaultFactor, "Initial step bound (LMA)")
	f.StringVar(&fitFlags.Diagonal, "diagonal", "", "Diagonal scaling: one positive number or one per parameter (LMA)")
	f.Float64Var(&fitFlags.Tolerance, "tolerance", config.DefaultTolerance, "Convergence tolerance")
	f.StringVar(&fitFlags.Method, "method", config.DefaultMethod, "Solver: "+strings.Join(opt.Methods(), ", "))
	f.BoolVar(&fitFlags.NoJacobian, "no-jacobian", false, "Use finite differences instead of the analytic Jacobian")
	f.IntVar(&fitFlags.Patience, "patience", 0, "Stop after N trunks without improvement (0 = off)")
	f.IntVar(&fitFlags.PopSize, "pop", config.DefaultPopSize, "Population size (Mayfly)")
	f.Int64Var(&fitFlags.Seed, "seed", config.DefaultSeed, "Random seed (Mayfly)")
	f.StringVar(&fitFlags.DataDir, "data-dir", config.DefaultDataDir, "Directory for run records (empty = do not store)")
	f.BoolVar(&fitFlags.Plot, "plot", false, "Plot the residue norm per trunk")
	f.StringVar(&configPath, "config", "", "YAML settings file")
}

// fitSettings loads the settings file, if any, and applies the flags that
// were set explicitly on top of it
func fitSettings(cmd *cobra.Command) (*config.Settings, error) {
	s := config.DefaultSettings()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		s = loaded
	}

	changed := cmd.Flags().Changed
	if changed("cutoff") {
		c := fitCutoff
		s.Cutoff = &c
	}
	if changed("guess") {
		s.Guess = fitFlags.Guess
	}
	if changed("steps") {
		s.Steps = fitFlags.Steps
	}
	if changed("trunk-size") {
		s.TrunkSize = fitFlags.TrunkSize
	}
	if changed("factor") {
		s.Factor = fitFlags.Factor
	}
	if changed("diagonal") {
		s.Diagonal = fitFlags.Diagonal
	}
	if changed("tolerance") {
		s.Tolerance = fitFlags.Tolerance
	}
	if changed("method") {
		s.Method = fitFlags.Method
	}
	if changed("no-jacobian") {
		s.NoJacobian = fitFlags.NoJacobian
	}
	if changed("patience") {
		s.Patience = fitFlags.Patience
	}
	if changed("pop") {
		s.PopSize = fitFlags.PopSize
	}
	if changed("seed") {
		s.Seed = fitFlags.Seed
	}
	if changed("data-dir") {
		s.DataDir = fitFlags.DataDir
	}
	if changed("plot") {
		s.Plot = fitFlags.Plot
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func runFit(cmd *cobra.Command, args []string) error {
	s, err := fitSettings(cmd)
	if err != nil {
		return err
	}

	session, err := newSession(s, args, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer session.close()

	runID := uuid.NewString()
	if err := session.openStore(runID, nil); err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	slog.Info("Fit configured",
		"run_id", runID,
		"method", s.Method,
		"configurations", len(args),
		"pairs", session.set.Len(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = session.run(ctx, session.set.Vector(), 0)
	return err
}
