package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/morsefit/internal/config"
	"github.com/cwbudde/morsefit/internal/fit"
	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/store"
	"github.com/cwbudde/morsefit/internal/structure"
)

// writeHeliumScan writes He₂ configurations generated from known Morse
// parameters and returns their paths
func writeHeliumScan(t *testing.T, dir string) []string {
	t.Helper()
	truth := morse.Params{De: 0.35, A: 1.2, R0: 0.8}
	var paths []string
	for i := 0; i < 30; i++ {
		r := 0.5 + 0.15*float64(i)
		body := fmt.Sprintf("%.17g\nHe2 r=%.2f\n\nHe 0 0 0\n\nHe %.17g 0 0\n", morse.Default.Energy(r, truth), r, r)
		path := filepath.Join(dir, fmt.Sprintf("he2-%02d.conf", i))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		paths = append(paths, path)
	}
	return paths
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFitAndResume(t *testing.T) {
	dir := t.TempDir()
	confs := writeHeliumScan(t, dir)
	guess := filepath.Join(dir, "morse.inp")
	require.NoError(t, os.WriteFile(guess, []byte("# pair De a r0\nHe He 0.3 1.05 0.9\n"), 0644))
	dataDir := filepath.Join(dir, "data")

	// one short trunk cannot converge
	args := append([]string{"fit", "--guess", guess, "--data-dir", dataDir, "--steps", "1", "--trunk-size", "2"}, confs...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "trunk 1 (2 iterations)")
	assert.Contains(t, out, "not converged")
	assert.Contains(t, out, "He-He")
	assert.Contains(t, out, "he2-00.conf")

	st, err := store.NewFSStore(dataDir)
	require.NoError(t, err)
	runs, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := runs[0].RunID
	assert.Equal(t, fit.StepsExhausted.String(), runs[0].State)
	assert.Equal(t, 1, runs[0].Trunk)

	out, err = execute(t, "resume", runID, "--data-dir", dataDir, "--steps", "20", "--trunk-size", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "trunk 2 (2000 iterations)")

	record, err := st.LoadRun(runID)
	require.NoError(t, err)
	assert.Equal(t, fit.Converged.String(), record.State, record.Message)
	assert.Greater(t, record.Trunk, 1)
	assert.InEpsilon(t, 0.35, record.Params[0], 0.01)
	assert.InEpsilon(t, 1.2, record.Params[1], 0.01)
	assert.InEpsilon(t, 0.8, record.Params[2], 0.01)

	trace, err := store.ReadTrace(dataDir, runID)
	require.NoError(t, err)
	require.Len(t, trace, record.Trunk)
	for i, e := range trace {
		assert.Equal(t, i+1, e.Trunk)
	}

	out, err = execute(t, "runs", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "converged")
}

func TestFitMissingGuessFails(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "mixed.conf")
	require.NoError(t, os.WriteFile(conf, []byte("-0.1\n\nHe 0 0 0\n\nAr 3 0 0\n"), 0644))
	guess := filepath.Join(dir, "morse.inp")
	require.NoError(t, os.WriteFile(guess, []byte("He He 0.3 1.05 0.9\n"), 0644))

	_, err := execute(t, "fit", "--guess", guess, "--data-dir", "", conf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ar and He")
}

func TestFitSettingsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.yaml")
	s := config.DefaultSettings()
	s.Steps = 9
	s.Method = "BFGS"
	s.Patience = 3
	require.NoError(t, config.Save(path, s))

	cmd := &cobra.Command{Use: "fit"}
	addFitFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--steps", "4"}))
	defer func() { configPath = "" }()

	got, err := fitSettings(cmd)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Steps)
	assert.Equal(t, "BFGS", got.Method)
	assert.Equal(t, 3, got.Patience)
}

func TestSettingsRunConfigRoundTrip(t *testing.T) {
	cutoff := 7.5
	s := config.DefaultSettings()
	s.Cutoff = &cutoff
	s.Guess = "/abs/morse.inp"
	s.Method = "Nelder-Mead"
	s.DataDir = "/tmp/data"

	rc, err := runConfigOf(s, []string{"/abs/a.conf"}, []float64{0.1, 2, 30})
	require.NoError(t, err)
	back := settingsOf(rc, "/tmp/data")

	assert.Equal(t, s.Method, back.Method)
	require.NotNil(t, back.Cutoff)
	assert.Equal(t, 7.5, *back.Cutoff)
	diag, err := config.ParseDiagonal(back.Diagonal, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 2, 30}, diag)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "morsefit version "))
}

func TestFitRejectsNonFiniteCoordinate(t *testing.T) {
	dir := t.TempDir()
	confs := writeHeliumScan(t, dir)[:2]
	bad := filepath.Join(dir, "a.conf")
	require.NoError(t, os.WriteFile(bad, []byte("-0.1\n\nHe 0 0 0\n\nHe nan 0 1\n"), 0644))
	guess := filepath.Join(dir, "morse.inp")
	require.NoError(t, os.WriteFile(guess, []byte("He He 0.3 1.05 0.9\n"), 0644))

	out, err := execute(t, append([]string{"fit", "--guess", guess, "--data-dir", ""}, append(confs, bad)...)...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, structure.ErrFormat), "want format error, got %v", err)
	assert.Contains(t, err.Error(), "a.conf line 5")
	assert.NotContains(t, out, "trunk 1")
}
