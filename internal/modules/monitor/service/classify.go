package service

import (
	"fmt"
	"time"

	"bot_fleet/internal/models"
)

// Evidence is everything the monitor could learn about one bot this pass.
type Evidence struct {
	// ActivityAt is the freshest observed activity: last ledger trade or
	// last accepted heartbeat, whichever is newer. Nil when none was ever
	// seen inside the outer window.
	ActivityAt *time.Time
	// Err marks an evidence-query failure. With Err set the monitor does
	// not know the bot's state: that is `error`, never `stopped`.
	Err error
}

// Classify turns evidence into a liveness verdict. Pure function of its
// inputs: re-running it with the same clock and evidence yields the same
// verdict.
//
// Rules, in order: query failure => error; activity within FreshWithin =>
// healthy; within StaleWithin => stale; older or never => stopped.
func Classify(now time.Time, ev Evidence, cfg models.HealthConfig) (models.HealthState, string) {
	if ev.Err != nil {
		return models.HealthError, fmt.Sprintf("evidence query failed: %v", ev.Err)
	}
	if ev.ActivityAt == nil {
		return models.HealthStopped, fmt.Sprintf("no activity within the outer window (%s)", cfg.StaleWithin)
	}

	age := now.Sub(*ev.ActivityAt)
	switch {
	case age <= cfg.FreshWithin:
		return models.HealthHealthy, fmt.Sprintf("activity %s ago", age.Round(time.Second))
	case age <= cfg.StaleWithin:
		return models.HealthStale, fmt.Sprintf("no activity for %s (healthy window is %s)",
			age.Round(time.Second), cfg.FreshWithin)
	default:
		return models.HealthStopped, fmt.Sprintf("last activity %s ago, beyond the outer window (%s)",
			age.Round(time.Second), cfg.StaleWithin)
	}
}
