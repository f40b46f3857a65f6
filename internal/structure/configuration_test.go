package structure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewElementPairCanonical(t *testing.T) {
	assert.Equal(t, ElementPair{"He", "Ne"}, NewElementPair("Ne", "He"))
	assert.Equal(t, NewElementPair("He", "Ne"), NewElementPair("Ne", "He"))
	assert.Equal(t, ElementPair{"O", "O"}, NewElementPair("O", "O"))
	assert.Equal(t, "C-H", NewElementPair("H", "C").String())
	assert.Equal(t, ElementPair{"C", "H"}, ElementPair{"H", "C"}.Canonical())
}

// water-like molecule plus a lone atom far away
func sampleConfiguration() *Configuration {
	c := NewConfiguration("sample", "tag", -1.5)
	c.AddMolecule(Molecule{
		{Symbol: "O", Position: [3]float64{0, 0, 0}},
		{Symbol: "H", Position: [3]float64{0.96, 0, 0}},
		{Symbol: "H", Position: [3]float64{-0.24, 0.93, 0}},
	})
	c.AddMolecule(Molecule{
		{Symbol: "Ar", Position: [3]float64{3, 0, 0}},
	})
	c.AddMolecule(Molecule{
		{Symbol: "Ar", Position: [3]float64{30, 0, 0}},
	})
	return c
}

func TestComputeInteractionsExcludesIntramolecular(t *testing.T) {
	c := sampleConfiguration()
	n := c.ComputeInteractions(NoCutoff)

	// 3*1 + 3*1 + 1*1 intermolecular pairs
	require.Equal(t, 7, n)
	require.Len(t, c.Interactions(), 7)

	for _, in := range c.Interactions() {
		assert.NotEqual(t, NewElementPair("O", "H"), in.Pair, "intramolecular O-H pair included")
		assert.NotEqual(t, NewElementPair("H", "H"), in.Pair, "intramolecular H-H pair included")
	}
	assert.False(t, c.Cutoff().Enabled)

	var farArAr bool
	for _, in := range c.Interactions() {
		if in.Pair == NewElementPair("Ar", "Ar") {
			assert.InDelta(t, 27.0, in.Distance, 1e-12)
			farArAr = true
		}
	}
	assert.True(t, farArAr, "long-range pair must be kept without a cutoff")
}

func TestComputeInteractionsCutoff(t *testing.T) {
	c := sampleConfiguration()
	n := c.ComputeInteractions(WithCutoff(3.0))

	// O-Ar at exactly 3.0 is kept, H-Ar at 2.04 is kept, the rest exceed 3.0
	for _, in := range c.Interactions() {
		assert.LessOrEqual(t, in.Distance, 3.0)
	}
	want := 0
	for _, d := range []float64{3.0, 2.04, math.Hypot(3.24, 0.93)} {
		if d <= 3.0 {
			want++
		}
	}
	assert.Equal(t, want, n)

	// recomputing from scratch with no cutoff restores every pair
	assert.Equal(t, 7, c.ComputeInteractions(NoCutoff))
	assert.Equal(t, 1, c.ComputeInteractions(WithCutoff(2.5)))
	assert.Equal(t, WithCutoff(2.5), c.Cutoff())
}

func TestSingleMoleculeHasNoInteractions(t *testing.T) {
	c := NewConfiguration("single", "", 0)
	c.AddMolecule(Molecule{
		{Symbol: "He", Position: [3]float64{0, 0, 0}},
		{Symbol: "He", Position: [3]float64{1, 0, 0}},
	})
	assert.Equal(t, 0, c.ComputeInteractions(NoCutoff))
}
