package app

import (
	"time"

	"github.com/google/uuid"
)

// Run tracks one CLI invocation. The ID tags every log line the invocation
// writes so interleaved runs can be told apart in sealgate.log.
type Run struct {
	ID        string
	Operation string
	Started   time.Time
	Status    string // "success" or "error"
}

// NewRun creates a run for the named operation with a fresh ID.
func NewRun(operation string, started time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Operation: operation,
		Started:   started,
		Status:    "success",
	}
}

// Finish records the outcome of the run.
func (r *Run) Finish(err error) {
	if err != nil {
		r.Status = "error"
		return
	}
	r.Status = "success"
}

// Duration returns the time elapsed between Started and now.
func (r *Run) Duration(now time.Time) time.Duration {
	return now.Sub(r.Started)
}
