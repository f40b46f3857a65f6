package structure

import (
	"gonum.org/v1/gonum/floats"
)

// Atom is an element symbol at a Cartesian position
type Atom struct {
	Symbol   string
	Position [3]float64
}

// Molecule is a group of atoms; interactions are only counted between
// atoms of different molecules.
type Molecule []Atom

// Interaction is an intermolecular atom pair and its distance
type Interaction struct {
	Pair     ElementPair
	Distance float64
}

// Cutoff is an optional maximum interaction distance
type Cutoff struct {
	Distance float64
	Enabled  bool
}

// NoCutoff keeps every intermolecular pair
var NoCutoff = Cutoff{}

// WithCutoff returns a cutoff at distance d
func WithCutoff(d float64) Cutoff {
	return Cutoff{Distance: d, Enabled: true}
}

// Keeps reports whether a pair at distance d is retained
func (c Cutoff) Keeps(d float64) bool {
	return !c.Enabled || d <= c.Distance
}

// Configuration is one atomic configuration with its reference energy.
//
// Molecules are added first; ComputeInteractions must then be called once
// all of them are present. After that the configuration is read-only.
type Configuration struct {
	FileName string
	Tag      string
	AbInitio float64

	molecules    []Molecule
	cutoff       Cutoff
	interactions []Interaction
}

// NewConfiguration creates an empty configuration
func NewConfiguration(fileName, tag string, abInitio float64) *Configuration {
	return &Configuration{
		FileName: fileName,
		Tag:      tag,
		AbInitio: abInitio,
	}
}

// AddMolecule appends a molecule
func (c *Configuration) AddMolecule(m Molecule) {
	c.molecules = append(c.molecules, m)
}

// Molecules returns the molecules added so far
func (c *Configuration) Molecules() []Molecule {
	return c.molecules
}

// ComputeInteractions builds the intermolecular interaction list from
// scratch and returns its length. Cost is the sum over molecule pairs of the
// product of their atom counts.
func (c *Configuration) ComputeInteractions(cutoff Cutoff) int {
	var out []Interaction
	for i := 0; i < len(c.molecules); i++ {
		for j := i + 1; j < len(c.molecules); j++ {
			for _, a1 := range c.molecules[i] {
				for _, a2 := range c.molecules[j] {
					d := floats.Distance(a1.Position[:], a2.Position[:], 2)
					if !cutoff.Keeps(d) {
						continue
					}
					out = append(out, Interaction{
						Pair:     NewElementPair(a1.Symbol, a2.Symbol),
						Distance: d,
					})
				}
			}
		}
	}
	c.interactions = out
	c.cutoff = cutoff
	return len(out)
}

// Interactions returns the interaction list computed by ComputeInteractions
func (c *Configuration) Interactions() []Interaction {
	return c.interactions
}

// Cutoff returns the cutoff used for the last ComputeInteractions call
func (c *Configuration) Cutoff() Cutoff {
	return c.cutoff
}
