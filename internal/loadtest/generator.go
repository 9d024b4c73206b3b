package loadtest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// metersPerDegree is close enough for offsets of a few kilometres.
	metersPerDegree = 111_320.0
	onsiteJitterM   = 40.0
	offsiteMinM     = 1_500.0
	offsiteRangeM   = 3_000.0
)

// generate builds cfg.Submissions submissions around the event. Each user
// submits once. Offsite ones land kilometres away and should be rejected.
func generate(cfg Config, now time.Time) []submission {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic load
	subs := make([]submission, cfg.Submissions)
	for i := range subs {
		offsite := rng.Float64() < cfg.OffsiteRate
		lat, lon := jitter(rng, cfg.Latitude, cfg.Longitude, offsite)
		subs[i] = submission{
			ID:          fmt.Sprintf("lt-%d-%06d", cfg.Seed, i),
			EventID:     cfg.EventID,
			UserID:      fmt.Sprintf("lt-user-%06d", i),
			Latitude:    &lat,
			Longitude:   &lon,
			SubmittedAt: now.UTC().Format(time.RFC3339),
			offsite:     offsite,
		}
	}
	return subs
}

// withResends appends copies of some submissions so the duplicate path is
// exercised while the originals are still in flight.
func withResends(cfg Config, subs []submission) []submission {
	rng := rand.New(rand.NewPCG(cfg.Seed+1, cfg.Seed)) //nolint:gosec // synthetic load
	out := make([]submission, 0, len(subs)+int(float64(len(subs))*cfg.ResendRate)+1)
	for _, s := range subs {
		out = append(out, s)
		if rng.Float64() < cfg.ResendRate {
			out = append(out, s)
		}
	}
	return out
}

// jitter moves (lat, lon) by a random distance on a random bearing.
func jitter(rng *rand.Rand, lat, lon float64, offsite bool) (float64, float64) {
	dist := rng.Float64() * onsiteJitterM
	if offsite {
		dist = offsiteMinM + rng.Float64()*offsiteRangeM
	}
	bearing := rng.Float64() * 2 * math.Pi
	dLat := dist * math.Cos(bearing) / metersPerDegree
	dLon := dist * math.Sin(bearing) / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}
