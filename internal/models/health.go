package models

import "time"

// HealthState is the system-derived liveness classification, independent of
// the operator-set reported status. Any state can move to any other as
// fresh evidence arrives; there is no terminal state.
type HealthState string

const (
	HealthUnknown HealthState = "unknown" // never evaluated yet
	HealthHealthy HealthState = "healthy" // recent activity observed
	HealthStale   HealthState = "stale"   // activity slowing, inside outer window
	HealthStopped HealthState = "stopped" // no activity past the outer window
	HealthError   HealthState = "error"   // evidence query failed, state unknowable
)

// HealthStatus is the latest verdict for one bot. Written only by the
// health monitor.
type HealthStatus struct {
	BotID          int64       `json:"bot_id"`
	State          HealthState `json:"state"`
	Reason         string      `json:"reason"`
	CheckedAt      time.Time   `json:"checked_at"`
	LastActivityAt *time.Time  `json:"last_activity_at,omitempty"`
}

// HealthLogEntry is one audit row per state transition. Append-only;
// replaying a bot's entries in order reconstructs its current state.
type HealthLogEntry struct {
	ID        int64       `json:"id"`
	BotID     int64       `json:"bot_id"`
	From      HealthState `json:"from"`
	To        HealthState `json:"to"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

// Heartbeat is liveness evidence pushed by an externally running bot
// process. If sufficiently recent it counts the same as trade history.
type Heartbeat struct {
	BotID  int64             `json:"bot_id"`
	Status string            `json:"status"`
	At     time.Time         `json:"at"`
	Meta   map[string]string `json:"meta,omitempty"`
}
