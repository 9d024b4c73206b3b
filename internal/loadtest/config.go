// Package loadtest drives a running service through its async submission
// path and reports how many submissions were accepted.
package loadtest

import (
	"runtime"
	"time"
)

// Config holds configuration for a load test run.
type Config struct {
	BaseURL     string        // Base URL of the service
	EventID     string        // Event the submissions target; registered before the run
	Submissions int           // Number of distinct submissions to send
	Workers     int           // Number of concurrent senders
	Timeout     time.Duration // HTTP request timeout
	Settle      time.Duration // How long to wait for verification to finish
	PollEvery   time.Duration // Delay between polling rounds
	OffsiteRate float64       // Share of submissions placed far from the event
	ResendRate  float64       // Share of submissions sent twice
	Seed        uint64        // Random seed; equal seeds generate equal runs
	Latitude    float64       // Event latitude
	Longitude   float64       // Event longitude
}

// DefaultConfig returns a small run against a local service.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:9080",
		EventID:     "loadtest-event",
		Submissions: 1000,
		Workers:     runtime.NumCPU() * 2,
		Timeout:     10 * time.Second,
		Settle:      2 * time.Minute,
		PollEvery:   500 * time.Millisecond,
		OffsiteRate: 0.1,
		ResendRate:  0.05,
		Seed:        1,
		Latitude:    8.9475,
		Longitude:   125.5406,
	}
}

// Stats holds run statistics.
type Stats struct {
	Generated  int
	Sent       int
	Queued     int
	Duplicates int
	Throttled  int
	Failed     int
	Verified   int
	Accepted   int
	Rejected   int
	Pending    int
	Mismatched int // offsite accepted or onsite rejected
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}

// submission is the request body of POST /v1/submissions.
type submission struct {
	ID          string   `json:"id"`
	EventID     string   `json:"event_id"`
	UserID      string   `json:"user_id"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	SubmittedAt string   `json:"submitted_at"`

	offsite bool
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type verificationResponse struct {
	Outcome struct {
		IsAccepted   bool    `json:"is_accepted"`
		OverallScore float64 `json:"overall_score"`
	} `json:"outcome"`
}
