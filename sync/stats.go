package sync

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkandula/poosh/file"
)

// Counter tracks files and bytes scheduled for a transfer and how many of them
// are done.
type Counter struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
	Done  int   `json:"done"`
}

// Actions counts terminal classifications. Failure counts files whose action
// did not complete; they are not counted under their classification.
type Actions struct {
	Creation  int `json:"creation"`
	Update    int `json:"update"`
	Deletion  int `json:"deletion"`
	Identical int `json:"identical"`
	Unchange  int `json:"unchange"`
	Failure   int `json:"failure"`
}

// Skips is the number of files left untouched.
func (a Actions) Skips() int {
	return a.Identical + a.Unchange
}

// StatsSnapshot is a copy of the run statistics.
type StatsSnapshot struct {
	RunID     string    `json:"runId"`
	Command   string    `json:"command"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Match     struct {
		Count int   `json:"count"`
		Size  int64 `json:"size"`
	} `json:"match"`
	Upload   Counter `json:"upload"`
	Delete   Counter `json:"delete"`
	Action   Actions `json:"action"`
	Finished bool    `json:"finished"`
}

// Elapsed returns the run duration so far.
func (s StatsSnapshot) Elapsed() time.Duration {
	if s.Finished {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// Stats is the run state. Only the engine mutates it, always through update,
// which also notifies the listener with a consistent copy.
type Stats struct {
	mu       sync.Mutex
	s        StatsSnapshot
	listener Listener
}

func newStats(listener Listener) *Stats {
	if listener == nil {
		listener = func(Event) {}
	}
	return &Stats{listener: listener}
}

func (st *Stats) init(command string) {
	st.mu.Lock()
	st.s = StatsSnapshot{
		RunID:     uuid.NewString(),
		Command:   command,
		StartTime: time.Now(),
	}
	snap := st.s
	st.mu.Unlock()
	st.listener(Event{Type: EventStart, Stats: snap})
}

// update applies fn and emits an event built by ev. Updates after finalize
// are ignored.
func (st *Stats) update(fn func(s *StatsSnapshot), ev Event) {
	st.mu.Lock()
	if st.s.Finished {
		st.mu.Unlock()
		return
	}
	if fn != nil {
		fn(&st.s)
	}
	ev.Stats = st.s
	// the listener runs under the lock so events arrive in mutation order
	st.listener(ev)
	st.mu.Unlock()
}

func (st *Stats) finalize() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.s.Finished {
		st.s.Finished = true
		st.s.EndTime = time.Now()
		st.listener(Event{Type: EventFinish, Stats: st.s})
	}
	return st.s
}

// Snapshot returns a copy of the current statistics.
func (st *Stats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func countAction(a *Actions, status file.ActionStatus) {
	switch status {
	case file.Created:
		a.Creation++
	case file.Updated:
		a.Update++
	case file.Deleted:
		a.Deletion++
	case file.Identical:
		a.Identical++
	case file.Unchanged:
		a.Unchange++
	}
}
