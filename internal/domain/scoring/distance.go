package scoring

import (
	"context"
	"math"

	"github.com/lowmax205/eas/internal/domain/model"
)

// EarthRadiusMeters is the sphere radius used by Haversine.
const EarthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance between two positions in meters.
func Haversine(a, b model.Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ProximityScore maps a distance to a confidence for the given radius:
// linear from 1 at the venue to 0 at the radius, 0 beyond it.
func ProximityScore(distance, radius float64) (bool, float64) {
	if distance > radius {
		return false, 0
	}
	return true, math.Max(0, 1-distance/radius)
}

// Distance scores how close the reported position is to the venue.
type Distance struct{}

func (Distance) Type() model.CheckType { return model.CheckDistance }

func (Distance) Applicable(in Input) bool { return in.Submission.ReportedPosition != nil }

func (Distance) Run(_ context.Context, in Input) (Score, error) {
	pos := *in.Submission.ReportedPosition
	radius := in.Window.AllowedRadiusMeters
	if radius <= 0 {
		radius = in.DefaultRadiusMeters
	}
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}

	d := Haversine(pos, in.Window.EventPosition)
	passed, conf := ProximityScore(d, radius)

	details := map[string]any{
		"distance_meters":       d,
		"allowed_radius_meters": radius,
	}
	if pos.AccuracyMeters != nil {
		details["accuracy_meters"] = *pos.AccuracyMeters
	}
	return Score{Passed: passed, Confidence: conf, Details: details}, nil
}
