package predict

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

func TestAssemble(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 42, 7, 0, time.FixedZone("EAT", 3*3600))
	points := []orb.Point{{32.58, 0.31}, {32.60, 0.33}, {32.61, 0.35}}
	values := []float64{41.5, math.NaN(), math.Inf(1)}

	doc, err := Assemble("Kampala", "uganda", points, values, now)
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "Kampala", doc.AirQloud)
	assert.Equal(t, "uganda_kampala", doc.AirQloudID)
	assert.Equal(t, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), doc.CreatedAt)

	require.Len(t, doc.Values, 3)
	assert.Equal(t, 0.31, doc.Values[0].Latitude)
	assert.Equal(t, 32.58, doc.Values[0].Longitude)
	require.NotNil(t, doc.Values[0].PredictedValue)
	assert.Equal(t, 41.5, *doc.Values[0].PredictedValue)
	assert.Nil(t, doc.Values[1].PredictedValue)
	assert.Nil(t, doc.Values[2].PredictedValue)

	for _, v := range doc.Values {
		assert.Nil(t, v.Variance)
		assert.Nil(t, v.Interval)
	}
}

func TestAssemble_LengthMismatch(t *testing.T) {
	doc, err := Assemble("Jinja", "uganda", []orb.Point{{33.2, 0.4}}, nil, time.Now())
	require.Error(t, err)
	assert.Nil(t, doc)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestAssemble_UniqueIDs(t *testing.T) {
	a, err := Assemble("Gulu", "uganda", nil, nil, time.Now())
	require.NoError(t, err)
	b, err := Assemble("Gulu", "uganda", nil, nil, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Empty(t, a.Values)
}
