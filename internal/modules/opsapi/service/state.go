package service

import (
	"sync/atomic"
	"time"
)

// State is the liveness snapshot behind /livez, /readyz and /healthz.
// The runner and the monitor flip their bits when their loops start and
// stop; the process is ready only while both loops are up.
type State struct {
	startedAt time.Time

	runnerUp  atomic.Bool
	monitorUp atomic.Bool

	runnerTickUnix  atomic.Int64 // unix seconds
	monitorTickUnix atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetRunnerUp(v bool)  { s.runnerUp.Store(v) }
func (s *State) SetMonitorUp(v bool) { s.monitorUp.Store(v) }

func (s *State) RunnerUp() bool  { return s.runnerUp.Load() }
func (s *State) MonitorUp() bool { return s.monitorUp.Load() }

func (s *State) Ready() bool {
	return s.runnerUp.Load() && s.monitorUp.Load()
}

func (s *State) TouchRunnerTick(t time.Time)  { s.runnerTickUnix.Store(t.Unix()) }
func (s *State) TouchMonitorTick(t time.Time) { s.monitorTickUnix.Store(t.Unix()) }

func (s *State) LastRunnerTick() time.Time  { return unixOrZero(s.runnerTickUnix.Load()) }
func (s *State) LastMonitorTick() time.Time { return unixOrZero(s.monitorTickUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func unixOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
