package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"

	"github.com/spf13/cobra"

	"github.com/cwbudde/morsefit/internal/config"
	"github.com/cwbudde/morsefit/internal/fit"
	"github.com/cwbudde/morsefit/internal/store"
)

var (
	resumeDataDir string
	resumeSteps   int
	resumeTrunk   int
)

var resumeCmd = &cobra.Command{
	Use:   "resume RUN_ID [CONF...]",
	Short: "Continue a stored run from its last parameter vector",
	Long: `Reloads the configurations and guess file recorded for the run and continues
fitting from the stored vector. If CONF files are given they must match the
recorded ones.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", config.DefaultDataDir, "Directory holding run records")
	resumeCmd.Flags().IntVar(&resumeSteps, "steps", 0, "Maximum number of further trunks (0 = as recorded)")
	resumeCmd.Flags().IntVar(&resumeTrunk, "trunk-size", 0, "Solver iterations per trunk (0 = as recorded)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	record, err := st.LoadRun(runID)
	if err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if record.State == fit.Converged.String() {
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s already converged.\n", runID)
		return nil
	}

	s := settingsOf(record.Config, resumeDataDir)
	if resumeSteps > 0 {
		s.Steps = resumeSteps
	}
	if resumeTrunk > 0 {
		s.TrunkSize = resumeTrunk
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("run %s has invalid settings: %w", runID, err)
	}

	if len(args) > 1 {
		given, err := runConfigOf(s, args[1:], record.Config.Diag)
		if err != nil {
			return err
		}
		if err := record.IsCompatible(given); err != nil {
			return fmt.Errorf("cannot resume run %s: %w", runID, err)
		}
	}

	session, err := newSession(s, record.Config.Configurations, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer session.close()

	if !slices.Equal(session.pairNames(), record.Pairs) {
		return fmt.Errorf("cannot resume run %s: guess file now lists pairs %v, run has %v",
			runID, session.pairNames(), record.Pairs)
	}

	if err := session.openStore(runID, record); err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	slog.Info("Resuming run",
		"run_id", runID,
		"completed_trunks", record.Trunk,
		"residue_norm", record.ResidueNorm,
		"steps", s.Steps,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = session.run(ctx, append([]float64(nil), record.Params...), record.Trunk)
	return err
}
