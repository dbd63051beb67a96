package generator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDistributions(t *testing.T) {
	tests := []struct {
		spec    string
		want    any
		wantErr bool
	}{
		{spec: "fixed:5", want: &Fixed{}},
		{spec: "10", want: &Fixed{}},
		{spec: "uniform:100", want: &Uniform{}},
		{spec: "normal:30,8", want: &Normal{}},
		{spec: "exponential:0.001", want: &Exponential{}},
		{spec: "exponential", want: &Exponential{}},
		{spec: "pareto:15,214.476,0.348238", want: &GPareto{}},
		{spec: "gev:30.7984,8.20449,0.078688", want: &GEV{}},
		{spec: "fb_key", want: &GEV{}},
		{spec: "fb_value", want: &GPareto{}},
		{spec: "fb_ia", want: &GPareto{}},
		{spec: "zipf:1.1", wantErr: true},
		{spec: "uniform", wantErr: true},
		{spec: "normal:30", wantErr: true},
		{spec: "pareto:1,2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			g, err := New(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, g)
		})
	}
}

func TestFixedGenerate(t *testing.T) {
	g, err := New("fixed:2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, g.Generate())

	g.SetLambda(1000)
	assert.InDelta(t, 0.001, g.Generate(), 1e-12)
}

func TestUniformBounds(t *testing.T) {
	g := &Uniform{Max: 100}
	for i := 0; i < 1000; i++ {
		v := g.Generate()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 100.0)
	}
}

func TestExponentialQuantile(t *testing.T) {
	g := &Exponential{Lambda: 2}
	// Median of Exp(2) is ln(2)/2.
	assert.InDelta(t, math.Ln2/2, g.Quantile(0.5), 1e-9)
}

func TestExponentialSetLambda(t *testing.T) {
	g := &Exponential{Lambda: 1}
	g.SetLambda(1000)
	assert.Equal(t, 1000.0, g.Lambda)
}

func TestGParetoQuantileMonotonic(t *testing.T) {
	g := &GPareto{Loc: 15, Scale: 214.476, Shape: 0.348238}
	prev := math.Inf(-1)
	for _, u := range []float64{0.01, 0.1, 0.5, 0.9, 0.99} {
		v := g.Quantile(u)
		assert.Greater(t, v, prev)
		prev = v
	}
	assert.InDelta(t, 15.0, g.Quantile(0), 1e-9)
}

func TestGEVQuantileMonotonic(t *testing.T) {
	g := &GEV{Loc: 30.7984, Scale: 8.20449, Shape: 0.078688}
	prev := math.Inf(-1)
	for _, u := range []float64{0.01, 0.1, 0.5, 0.9, 0.99} {
		v := g.Quantile(u)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestNormalQuantile(t *testing.T) {
	g := &Normal{Mean: 30, SD: 8}
	assert.InDelta(t, 30.0, g.Quantile(0.5), 1e-6)
	// One standard deviation above the mean is the ~84th percentile.
	assert.InDelta(t, 38.0, g.Quantile(0.8413447), 1e-3)
}

func TestKeyGenDeterministic(t *testing.T) {
	sizer, err := New("fixed:10")
	require.NoError(t, err)
	kg := NewKeyGen(sizer, 10000)

	assert.Equal(t, kg.Generate(42), kg.Generate(42))
	assert.NotEqual(t, kg.Generate(42), kg.Generate(43))
}

func TestKeyGenWidth(t *testing.T) {
	sizer, err := New("fixed:10")
	require.NoError(t, err)
	kg := NewKeyGen(sizer, 10000)

	key := kg.Generate(7)
	assert.Len(t, key, 10)
	assert.Equal(t, "0000000007", key)
}

func TestKeyGenMinWidthCoversKeySpace(t *testing.T) {
	// A 2-wide distribution cannot address a million records; the width
	// floor keeps index rendering unambiguous.
	sizer, err := New("fixed:2")
	require.NoError(t, err)
	kg := NewKeyGen(sizer, 1000000)

	assert.Len(t, kg.Generate(3), 7)
}

func TestKeyGenCapsAt250(t *testing.T) {
	sizer, err := New("fixed:4000")
	require.NoError(t, err)
	kg := NewKeyGen(sizer, 100)

	assert.Len(t, kg.Generate(5), 250)
}
