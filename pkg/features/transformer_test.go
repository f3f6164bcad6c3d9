package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/gemprice/pkg/models"
)

func fixtureRows() []models.FeatureRow {
	return []models.FeatureRow{
		{Depth: 61.0, Table: 55, Volume: 100, LogCarat: 0.3, Cut: "Ideal", Color: "E", Clarity: "SI1"},
		{Depth: 62.0, Table: 57, Volume: 150, LogCarat: 0.5, Cut: "Fair", Color: "J", Clarity: "IF"},
		{Depth: 63.0, Table: 59, Volume: 200, LogCarat: 0.7, Cut: "Good", Color: "D", Clarity: "I1"},
	}
}

func TestDerive(t *testing.T) {
	row := Derive(models.Record{Carat: 1, X: 2, Y: 3, Z: 4, Depth: 61, Table: 55, Cut: "Ideal", Color: "E", Clarity: "VS1", Price: 1000})
	assert.InDelta(t, math.Log(2), row.LogCarat, 1e-12)
	assert.Equal(t, 24.0, row.Volume)
	assert.Equal(t, "VS1", row.Clarity)

	assert.InDelta(t, 1000, InverseTarget(LogTarget(1000)), 1e-9)
}

func TestFitComputesPopulationStats(t *testing.T) {
	state, err := Fit(fixtureRows(), "run-1")
	require.NoError(t, err)
	require.NoError(t, state.Validate())

	assert.Equal(t, "run-1", state.Version)
	assert.Equal(t, 3, state.FittedRows)
	depth := state.Numeric[0]
	assert.Equal(t, "depth", depth.Column)
	assert.InDelta(t, 62.0, depth.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), depth.Scale, 1e-12)
	assert.Equal(t, []string{"depth", "table", "volume", "log_carat", "cut", "color", "clarity"}, state.FeatureNames())
}

func TestFitDeterministic(t *testing.T) {
	a, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)
	b, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)
	assert.Equal(t, a.Numeric, b.Numeric)
	assert.Equal(t, a.Categorical[0].Categories, b.Categorical[0].Categories)
}

func TestFitConstantColumn(t *testing.T) {
	rows := fixtureRows()
	for i := range rows {
		rows[i].Table = 57
	}
	state, err := Fit(rows, "v")
	require.NoError(t, err)
	assert.Equal(t, 1.0, state.Numeric[1].Scale)

	v, err := state.TransformOne(rows[0])
	require.NoError(t, err)
	assert.Equal(t, 0.0, v[1])
}

func TestFitEmpty(t *testing.T) {
	_, err := Fit(nil, "v")
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestTransformOrdinalRanks(t *testing.T) {
	state, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)

	X, err := state.Transform(fixtureRows())
	require.NoError(t, err)
	require.Len(t, X, 3)

	// Ideal=4, E=1, SI1=2
	assert.Equal(t, []float64{4, 1, 2}, X[0][4:])
	// Fair=0, J=6, IF=7
	assert.Equal(t, []float64{0, 6, 7}, X[1][4:])
	assert.InDelta(t, 0.0, X[1][0], 1e-12)
}

func TestTransformUnknownCategory(t *testing.T) {
	state, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)

	row := fixtureRows()[0]
	row.Cut = "Unknown"
	_, err = state.TransformOne(row)
	require.ErrorIs(t, err, ErrUnknownCategory)
	assert.Contains(t, err.Error(), "cut")

	_, err = state.Transform([]models.FeatureRow{fixtureRows()[0], row})
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestTransformUnpreparedState(t *testing.T) {
	fitted, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)

	decoded := &State{Version: fitted.Version, Numeric: fitted.Numeric}
	for _, enc := range fitted.Categorical {
		decoded.Categorical = append(decoded.Categorical, Encoder{Column: enc.Column, Categories: enc.Categories})
	}

	want, err := fitted.TransformOne(fixtureRows()[2])
	require.NoError(t, err)
	got, err := decoded.TransformOne(fixtureRows()[2])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestValidateRejectsBrokenState(t *testing.T) {
	assert.ErrorIs(t, (&State{}).Validate(), ErrNotFitted)

	state, err := Fit(fixtureRows(), "v")
	require.NoError(t, err)
	state.Numeric[2].Scale = 0
	assert.Error(t, state.Validate())
}
