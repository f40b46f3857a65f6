package structure

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigurationBasic(t *testing.T) {
	input := `   -0.1234567
  dimer-1.50

 He 0.0 0.0 0.0

 He 1.5 0.0 0.0
`
	c, err := ParseConfiguration(strings.NewReader(input), "confs/conf-01", NoCutoff)
	require.NoError(t, err)

	assert.Equal(t, -0.1234567, c.AbInitio)
	assert.Equal(t, "dimer-1.50", c.Tag)
	assert.Equal(t, "confs/conf-01", c.FileName)
	require.Len(t, c.Molecules(), 2)
	require.Len(t, c.Interactions(), 1)
	assert.InDelta(t, 1.5, c.Interactions()[0].Distance, 1e-15)
}

func TestParseConfigurationFinalSectionWithoutBlankLine(t *testing.T) {
	input := "-1.0\n\nNe 0 0 0\nNe 0 0 1\n\nAr 0 3 0"
	c, err := ParseConfiguration(strings.NewReader(input), "conf", NoCutoff)
	require.NoError(t, err)

	require.Len(t, c.Molecules(), 2)
	assert.Len(t, c.Molecules()[1], 1)
	assert.Len(t, c.Interactions(), 2)
}

func TestParseConfigurationDefaultsTagToFileName(t *testing.T) {
	input := "-1.0\n\nHe 0 0 0\n\n\n\nHe 0 0 2\n"
	c, err := ParseConfiguration(strings.NewReader(input), "runs/conf-07", NoCutoff)
	require.NoError(t, err)

	assert.Equal(t, "conf-07", c.Tag)
	// repeated blank lines do not create empty molecules
	assert.Len(t, c.Molecules(), 2)
}

func TestParseConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"bad energy", "abc\n\nHe 0 0 0\n", 1},
		{"empty file", "\n\n", 0},
		{"bad coordinate", "-1\n\nHe 0 0 0\n\nHe 0 x 0\n", 5},
		{"missing field", "-1\n\nHe 0 0\n", 3},
		{"extra field", "-1\n\nHe 0 0 0 0\n", 3},
		{"extra header line", "-1\ntag\nmore\n\nHe 0 0 0\n", 3},
		{"nan coordinate", "-1\n\nHe 0 0 0\n\nHe nan 0 1\n", 5},
		{"inf coordinate", "-1\n\nHe 0 0 0\n\nHe 0 -Inf 1\n", 5},
		{"inf energy", "inf\n\nHe 0 0 0\n\nHe 0 0 1\n", 1},
		{"nan energy", "NaN\n\nHe 0 0 0\n\nHe 0 0 1\n", 1},
		{"overflowing energy", "1e309\n\nHe 0 0 0\n\nHe 0 0 1\n", 1},
		{"line too long", "-1\n\nHe 0 0 0\n" + strings.Repeat("x", 70*1024) + "\n", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfiguration(strings.NewReader(tt.input), "conf-bad", NoCutoff)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), "want format error, got %v", err)

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, "conf-bad", fe.File)
			assert.Equal(t, tt.line, fe.Line)
			assert.Contains(t, err.Error(), "conf-bad")
		})
	}
}

func TestReadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf-00")
	require.NoError(t, os.WriteFile(path, []byte("-0.3\n\nHe 0 0 0\n\nHe 0 0 4\n"), 0644))

	c, err := ReadConfiguration(path, WithCutoff(3))
	require.NoError(t, err)
	assert.Empty(t, c.Interactions())
	assert.Equal(t, "conf-00", c.Tag)

	_, err = ReadConfiguration(filepath.Join(dir, "missing"), NoCutoff)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileAccess))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
