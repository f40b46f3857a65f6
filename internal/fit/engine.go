package fit

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/params"
	"github.com/cwbudde/morsefit/internal/structure"
)

// pairGroup holds the distances of one configuration that share an entry
type pairGroup struct {
	entry     int
	offset    int
	distances []float64
}

// Engine maps a flat parameter vector to per-configuration residues and
// their Jacobian. All tables are built by NewEngine and never modified, so
// Residue and Jacobian can be called any number of times.
type Engine struct {
	model    morse.Model
	set      *params.Set
	confs    []*structure.Configuration
	groups   [][]pairGroup // per configuration
	abInitio []float64
}

// NewEngine resolves every interaction of confs against set and groups the
// distances per (configuration, entry). It fails with a
// *params.MissingGuessError if any pair has no entry.
func NewEngine(confs []*structure.Configuration, set *params.Set, model morse.Model) (*Engine, error) {
	if len(confs) == 0 {
		return nil, errors.New("fit: no configurations given")
	}
	if set == nil || set.Len() == 0 {
		return nil, errors.New("fit: no Morse parameter guesses given")
	}

	e := &Engine{
		model:    model,
		set:      set,
		confs:    confs,
		groups:   make([][]pairGroup, len(confs)),
		abInitio: make([]float64, len(confs)),
	}

	// resolve each pair once so duplicate warnings are not repeated
	resolved := make(map[structure.ElementPair]int)

	for ci, conf := range confs {
		e.abInitio[ci] = conf.AbInitio
		byEntry := make(map[int]int) // entry → index into groups[ci]

		for _, in := range conf.Interactions() {
			offset, ok := resolved[in.Pair]
			if !ok {
				var err error
				offset, err = set.Resolve(in.Pair)
				if err != nil {
					return nil, fmt.Errorf("configuration %s: %w", conf.FileName, err)
				}
				resolved[in.Pair] = offset
			}

			entry := offset / morse.ParamsPerPair
			gi, ok := byEntry[entry]
			if !ok {
				gi = len(e.groups[ci])
				byEntry[entry] = gi
				e.groups[ci] = append(e.groups[ci], pairGroup{entry: entry, offset: offset})
			}
			e.groups[ci][gi].distances = append(e.groups[ci][gi].distances, in.Distance)
		}
	}

	slog.Debug("Engine ready",
		"configurations", len(confs),
		"pairs", set.Len(),
		"parameters", set.Dim(),
	)
	return e, nil
}

// Dims returns the number of parameters n and of residues m
func (e *Engine) Dims() (n, m int) {
	return e.set.Dim(), len(e.confs)
}

// Configurations returns the configurations in residue order
func (e *Engine) Configurations() []*structure.Configuration {
	return e.confs
}

// Set returns the parameter set the engine was built against
func (e *Engine) Set() *params.Set {
	return e.set
}

// AbInitio returns a copy of the reference energies
func (e *Engine) AbInitio() []float64 {
	return append([]float64(nil), e.abInitio...)
}

// Energies returns the Morse energy of every configuration at x
func (e *Engine) Energies(x []float64) []float64 {
	e.checkLen(x)
	out := make([]float64, len(e.confs))
	for ci, groups := range e.groups {
		var sum float64
		for _, g := range groups {
			p := morse.FromSlice(x[g.offset:])
			for _, d := range g.distances {
				sum += e.model.Energy(d, p)
			}
		}
		out[ci] = sum
	}
	return out
}

// Residue returns Morse energy minus ab-initio energy per configuration
func (e *Engine) Residue(x []float64) []float64 {
	r := e.Energies(x)
	for i := range r {
		r[i] -= e.abInitio[i]
	}
	return r
}

// Jacobian returns the n×m matrix of residue derivatives, one row per
// parameter and one column per configuration. Rows of entries without
// interactions in a configuration are zero there.
func (e *Engine) Jacobian(x []float64) *mat.Dense {
	e.checkLen(x)
	n, m := e.Dims()
	jac := mat.NewDense(n, m, nil)
	for ci, groups := range e.groups {
		for _, g := range groups {
			p := morse.FromSlice(x[g.offset:])
			var dDe, dA, dR0 float64
			for _, d := range g.distances {
				a, b, c := e.model.Gradient(d, p)
				dDe += a
				dA += b
				dR0 += c
			}
			jac.Set(g.offset, ci, dDe)
			jac.Set(g.offset+1, ci, dA)
			jac.Set(g.offset+2, ci, dR0)
		}
	}
	return jac
}

func (e *Engine) checkLen(x []float64) {
	if len(x) != e.set.Dim() {
		panic(fmt.Sprintf("fit: parameter vector has length %d, want %d", len(x), e.set.Dim()))
	}
}
