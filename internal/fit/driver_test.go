package fit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/morsefit/internal/morse"
	"github.com/cwbudde/morsefit/internal/opt"
	"github.com/cwbudde/morsefit/internal/params"
	"github.com/cwbudde/morsefit/internal/structure"
)

func heliumDriver(t *testing.T, guess morse.Params, opts Options) (*Driver, *params.Set) {
	t.Helper()
	set := heliumSet(guess)
	e, err := NewEngine(heliumScan(), set, morse.Default)
	require.NoError(t, err)
	d, err := NewDriver(e, opts)
	require.NoError(t, err)
	return d, set
}

func assertNearTrue(t *testing.T, x []float64) {
	t.Helper()
	got := morse.FromSlice(x)
	assert.InEpsilon(t, heTrue.De, got.De, 0.01)
	assert.InEpsilon(t, heTrue.A, got.A, 0.01)
	assert.InEpsilon(t, heTrue.R0, got.R0, 0.01)
}

func TestDriverConvergesFromTrueValues(t *testing.T) {
	d, set := heliumDriver(t, heTrue, DefaultOptions())
	assert.Equal(t, Idle, d.State())

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	assert.Equal(t, Converged, res.State)
	assert.Equal(t, Converged, d.State())
	assert.Equal(t, 1, res.Trunks)
	assertNearTrue(t, res.Params)
}

func TestDriverConvergesFromPerturbedStart(t *testing.T) {
	d, set := heliumDriver(t, morse.Params{De: 0.3, A: 1.05, R0: 0.9}, DefaultOptions())

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	assert.Equal(t, Converged, res.State, res.Message)
	assertNearTrue(t, res.Params)
	assert.Less(t, res.ResidueNorm, res.InitialNorm)
	assert.Len(t, res.History, res.Trunks)
}

func TestDriverFiniteDifferenceJacobian(t *testing.T) {
	opts := DefaultOptions()
	opts.NoJacobian = true
	d, set := heliumDriver(t, morse.Params{De: 0.3, A: 1.05, R0: 0.9}, opts)

	assert.Nil(t, d.Problem().Jacobian)

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State, res.Message)
	assertNearTrue(t, res.Params)
}

func TestDriverMinimizerBackend(t *testing.T) {
	opts := DefaultOptions()
	opts.Method = "L-BFGS-B"
	opts.Tolerance = 1e-14
	d, set := heliumDriver(t, morse.Params{De: 0.33, A: 1.15, R0: 0.82}, opts)

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)
	assertNearTrue(t, res.Params)
}

func TestDriverReportsEveryTrunk(t *testing.T) {
	opts := DefaultOptions()
	opts.Steps = 3
	opts.TrunkSize = 2
	opts.TrunkOffset = 4
	var reports []TrunkReport
	opts.OnTrunk = func(r TrunkReport) { reports = append(reports, r) }

	d, set := heliumDriver(t, morse.Params{De: 0.1, A: 0.5, R0: 2}, opts)
	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	require.Len(t, reports, res.Trunks)
	for i, r := range reports {
		assert.Equal(t, 5+i, r.Trunk)
		assert.Equal(t, (5+i)*2, r.Iterations)
		assert.Len(t, r.Params, 3)
	}
	if res.State == StepsExhausted {
		assert.Equal(t, 3, res.Trunks)
		assert.Equal(t, res.Params, reports[len(reports)-1].Params)
	}
}

func TestDriverStepsExhausted(t *testing.T) {
	opts := DefaultOptions()
	opts.Steps = 2
	opts.TrunkSize = 1
	d, set := heliumDriver(t, morse.Params{De: 0.1, A: 0.5, R0: 2}, opts)

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	assert.Equal(t, StepsExhausted, res.State)
	assert.Equal(t, 2, res.Trunks)
	assert.False(t, res.Stalled)
}

func TestDriverRunsOnce(t *testing.T) {
	d, set := heliumDriver(t, heTrue, DefaultOptions())
	_, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	_, err = d.Run(context.Background(), set.Vector())
	assert.Error(t, err)
}

func TestDriverCancelledBeforeFirstTrunk(t *testing.T) {
	d, set := heliumDriver(t, heTrue, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Run(ctx, set.Vector())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Trunks)
	assert.Equal(t, set.Vector(), res.Params)
}

func TestDriverStall(t *testing.T) {
	// a start far below every minimum where one evaluation per trunk
	// cannot make real progress
	opts := DefaultOptions()
	opts.Steps = 20
	opts.TrunkSize = 1
	opts.Stall = StallConfig{Patience: 2, Threshold: 10}
	d, set := heliumDriver(t, morse.Params{De: 0.1, A: 0.5, R0: 2}, opts)

	res, err := d.Run(context.Background(), set.Vector())
	require.NoError(t, err)

	assert.Equal(t, StepsExhausted, res.State)
	assert.True(t, res.Stalled)
	assert.Equal(t, 3, res.Trunks)
	assert.Contains(t, res.Message, "stalled")
}

func TestNewDriverValidation(t *testing.T) {
	e, err := NewEngine(heliumScan(), heliumSet(heTrue), morse.Default)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Options)
		target error
	}{
		{"zero steps", func(o *Options) { o.Steps = 0 }, nil},
		{"zero trunk", func(o *Options) { o.TrunkSize = 0 }, nil},
		{"diag length", func(o *Options) { o.Diag = []float64{1, 2} }, nil},
		{"unknown method", func(o *Options) { o.Method = "newton" }, opt.ErrUnknownMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := NewDriver(e, opts)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestDriverProblemCarriesBounds(t *testing.T) {
	set := params.NewSet([]params.Entry{{
		Pair:   structure.NewElementPair("He", "He"),
		Guess:  heTrue,
		Bounds: [3]params.Limits{{Lower: params.At(0)}, {}, {Upper: params.At(5)}},
	}})
	e, err := NewEngine(heliumScan(), set, morse.Default)
	require.NoError(t, err)
	d, err := NewDriver(e, DefaultOptions())
	require.NoError(t, err)

	p := d.Problem()
	require.Len(t, p.Lower, 3)
	assert.Equal(t, 0.0, p.Lower[0])
	assert.Equal(t, 5.0, p.Upper[2])
}

func TestStateRoundTrip(t *testing.T) {
	for st := Idle; st <= StepsExhausted; st++ {
		got, err := ParseState(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseState("paused")
	assert.Error(t, err)
}
