package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // sqlite only; 0 keeps everything
}

// Record kinds.
const (
	KindRun     = "run"
	KindOutcome = "outcome"
)

// RunRecord is one tasklet invocation or one threadlet outcome.
type RunRecord struct {
	At         time.Time `json:"at"`
	Threadlet  string    `json:"threadlet"`
	Tasklet    string    `json:"tasklet,omitempty"`
	Kind       string    `json:"kind"`
	DurationMS int64     `json:"duration_ms"`
	Count      uint64    `json:"count,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Query selects records, newest first. Empty fields match everything.
type Query struct {
	Threadlet string
	Tasklet   string
	Kind      string
	Limit     int
}

func (q Query) match(r RunRecord) bool {
	return (q.Threadlet == "" || q.Threadlet == r.Threadlet) &&
		(q.Tasklet == "" || q.Tasklet == r.Tasklet) &&
		(q.Kind == "" || q.Kind == r.Kind)
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 100
	}
	return q.Limit
}
