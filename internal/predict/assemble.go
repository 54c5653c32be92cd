package predict

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Assemble pairs each clipped grid point with its interpolated value and
// builds the document persisted for city. Non-finite values are stored as nil.
func Assemble(city, country string, points []orb.Point, values []float64, now time.Time) (*model.PredictionDocument, error) {
	if len(points) != len(values) {
		return nil, eris.Wrapf(model.ErrValidation,
			"predict: assemble %s: %d points but %d values", city, len(points), len(values))
	}

	out := make([]model.PredictionPoint, len(points))
	for i, p := range points {
		out[i] = model.PredictionPoint{
			Latitude:       p.Lat(),
			Longitude:      p.Lon(),
			PredictedValue: finite(values[i]),
		}
	}

	return &model.PredictionDocument{
		ID:         uuid.NewString(),
		AirQloud:   city,
		AirQloudID: model.AirQloudID(country, city),
		CreatedAt:  model.HourOf(now),
		Values:     out,
	}, nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
