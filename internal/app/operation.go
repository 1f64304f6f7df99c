package app

import (
	"strings"
	"time"
)

// Operation identifies one CLI invocation or server run. Its ID tags every
// log line written while it runs.
type Operation struct {
	ID      string
	Name    string
	Status  string // "success" or "error"
	Started time.Time
}

// NewOperation creates an operation started at now. The ID is the UTC start
// time followed by the operation name.
func NewOperation(name string, now time.Time) *Operation {
	id := now.UTC().Format("20060102T150405Z")
	if name != "" {
		id += "-" + strings.ReplaceAll(name, " ", "-")
	}
	return &Operation{
		ID:      id,
		Name:    name,
		Status:  "success",
		Started: now,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Failed reports whether Fail was called.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

// Elapsed returns how long the operation has run as of now.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started)
}
