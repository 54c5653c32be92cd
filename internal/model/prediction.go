package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PredictionPoint is one interpolated location of a heatmap grid.
// A nil PredictedValue means the value could not be computed. Variance and
// Interval are reserved and always nil until uncertainty estimation exists.
type PredictionPoint struct {
	Latitude       float64  `json:"latitude" firestore:"latitude" bson:"latitude"`
	Longitude      float64  `json:"longitude" firestore:"longitude" bson:"longitude"`
	PredictedValue *float64 `json:"predicted_value" firestore:"predicted_value" bson:"predicted_value"`
	Variance       *float64 `json:"variance" firestore:"variance" bson:"variance"`
	Interval       *float64 `json:"interval" firestore:"interval" bson:"interval"`
}

// PredictionDocument is the persisted heatmap grid for one airqloud (city).
type PredictionDocument struct {
	ID         string            `json:"id" firestore:"-" bson:"_id"`
	AirQloud   string            `json:"airqloud" firestore:"airqloud" bson:"airqloud"`
	AirQloudID string            `json:"airqloud_id" firestore:"airqloud_id" bson:"airqloud_id"`
	CreatedAt  time.Time         `json:"created_at" firestore:"created_at" bson:"created_at"`
	Values     []PredictionPoint `json:"values" firestore:"values" bson:"values"`
}

// AirQloudID builds the lowercase join key "{country}_{city}".
func AirQloudID(country, city string) string {
	return cases.Lower(language.Und).String(country + "_" + city)
}

// FoldKey normalizes a name for case-insensitive comparison.
func FoldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// HourOf truncates t to the start of its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
