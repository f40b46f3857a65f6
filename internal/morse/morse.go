package morse

import "math"

// DefaultPenaltyFactor scales the cubic barrier applied to negative parameters.
const DefaultPenaltyFactor = 1.0e10

// ParamsPerPair is the number of Morse parameters per element pair (De, a, r0).
const ParamsPerPair = 3

// Params holds the Morse parameters of one element pair
type Params struct {
	De float64 // Well depth
	A  float64 // Decay rate
	R0 float64 // Equilibrium distance
}

// FromSlice reads De, a, r0 from the first three elements of v
func FromSlice(v []float64) Params {
	return Params{De: v[0], A: v[1], R0: v[2]}
}

// Slice returns the parameters in flat-vector order
func (p Params) Slice() []float64 {
	return []float64{p.De, p.A, p.R0}
}

// Model evaluates the Morse potential and its analytic partial derivatives.
// Negative parameters are discouraged by a soft cubic penalty rather than
// hard constraints. A zero Model has no penalty; use Default for the
// standard factor.
type Model struct {
	PenaltyFactor float64
}

// Default is the model used by the fitter
var Default = Model{PenaltyFactor: DefaultPenaltyFactor}

// Energy returns the Morse energy at distance r including the penalty.
// Large a*(r0-r) may overflow to +Inf.
func (m Model) Energy(r float64, p Params) float64 {
	e := math.Exp(p.A * (p.R0 - r))
	return p.De*((e-1)*(e-1)-1) + m.Penalty(p)
}

// Penalty returns PenaltyFactor*|x|^3 summed over the negative components of p
func (m Model) Penalty(p Params) float64 {
	return m.barrier(p.De) + m.barrier(p.A) + m.barrier(p.R0)
}

// DEnergyDDe is the partial derivative of Energy with respect to De
func (m Model) DEnergyDDe(r float64, p Params) float64 {
	e := math.Exp(p.A * (p.R0 - r))
	return (e-1)*(e-1) - 1 + m.barrierSlope(p.De)
}

// DEnergyDA is the partial derivative of Energy with respect to a
func (m Model) DEnergyDA(r float64, p Params) float64 {
	e := math.Exp(p.A * (p.R0 - r))
	return -2*p.De*(r-p.R0)*e*(e-1) + m.barrierSlope(p.A)
}

// DEnergyDR0 is the partial derivative of Energy with respect to r0
func (m Model) DEnergyDR0(r float64, p Params) float64 {
	e := math.Exp(p.A * (p.R0 - r))
	return 2*p.A*p.De*e*(e-1) + m.barrierSlope(p.R0)
}

// Gradient returns all three partial derivatives, sharing one exponential
func (m Model) Gradient(r float64, p Params) (dDe, dA, dR0 float64) {
	e := math.Exp(p.A * (p.R0 - r))
	g := e * (e - 1)
	dDe = (e-1)*(e-1) - 1 + m.barrierSlope(p.De)
	dA = -2*p.De*(r-p.R0)*g + m.barrierSlope(p.A)
	dR0 = 2*p.A*p.De*g + m.barrierSlope(p.R0)
	return dDe, dA, dR0
}

func (m Model) barrier(x float64) float64 {
	if x >= 0 {
		return 0
	}
	return m.PenaltyFactor * -x * x * x
}

// d/dx of PenaltyFactor*(-x)^3
func (m Model) barrierSlope(x float64) float64 {
	if x >= 0 {
		return 0
	}
	return -3 * m.PenaltyFactor * x * x
}
