package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Test is a named unit of content to be measured. Source is either inline
// markup or a URL.
type Test struct {
	ID          string `json:"id"`
	Rev         int64  `json:"rev"`
	Source      string `json:"source"`
	Description string `json:"description"`

	// URL is the field older records used before source existed.
	URL string `json:"url,omitempty"`
}

// Canonicalize fills Source from the legacy URL field when Source is
// missing. It reports whether the record was changed.
func (t *Test) Canonicalize() bool {
	if t.Source != "" || t.URL == "" {
		return false
	}

	t.Source = t.URL

	return true
}

// Run is one timed execution of a Test.
type Run struct {
	ID                 string          `json:"id"`
	Rev                int64           `json:"rev"`
	TestID             string          `json:"test_id"`
	ClientIdentifier   *string         `json:"client_identifier,omitempty"`
	StartTime          *time.Time      `json:"start_time,omitempty"`
	StopTime           *time.Time      `json:"stop_time,omitempty"`
	MeasurementPayload json.RawMessage `json:"measurement_payload,omitempty"`
}

var (
	// ErrMissingTestID is returned for runs without a test reference.
	ErrMissingTestID = errors.New("run has no test_id")
	// ErrStopBeforeStart is returned when stop_time precedes start_time.
	ErrStopBeforeStart = errors.New("run stop_time is before start_time")
	// ErrStopWithoutStart is returned when stop_time is set alone.
	ErrStopWithoutStart = errors.New("run stop_time set without start_time")
)

// Validate checks the run invariants that hold for every persisted run.
func (r *Run) Validate() error {
	if r.TestID == "" {
		return ErrMissingTestID
	}

	if r.StopTime == nil {
		return nil
	}

	if r.StartTime == nil {
		return ErrStopWithoutStart
	}

	if r.StopTime.Before(*r.StartTime) {
		return ErrStopBeforeStart
	}

	return nil
}

// InFlight reports whether the run has no stop_time yet.
func (r *Run) InFlight() bool {
	return r.StartTime == nil || r.StopTime == nil
}

// Delta returns stop_time - start_time in milliseconds. ok is false for
// in-flight runs.
func (r *Run) Delta() (ms float64, ok bool) {
	if r.InFlight() {
		return 0, false
	}

	d := r.StopTime.Sub(*r.StartTime)
	if d < 0 {
		return 0, false
	}

	return float64(d) / float64(time.Millisecond), true
}

// Deltas extracts the samples of all completed runs, skipping in-flight
// ones.
func Deltas(runs []Run) []float64 {
	out := make([]float64, 0, len(runs))

	for i := range runs {
		if ms, ok := runs[i].Delta(); ok {
			out = append(out, ms)
		}
	}

	return out
}
