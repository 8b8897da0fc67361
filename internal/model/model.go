package model

import "time"

// NodeRecord is the liveness record the coordinator keeps for a relay node.
type NodeRecord struct {
	NodeID   string
	IP       string
	Port     int
	LastSeen time.Time
}

// Live reports whether the record is still inside the liveness window.
func (r NodeRecord) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastSeen) < ttl
}

// Heartbeat cycle outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// CycleResult is the outcome of one relay agent heartbeat cycle.
type CycleResult struct {
	Timestamp       time.Time
	NodeID          string
	IP              string
	Outcome         string // ok|skipped|rejected|failed
	Attempts        int
	Reauthenticated bool
	Duration        time.Duration
	Error           string
}
