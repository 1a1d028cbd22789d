package pipeline

import (
	"sync"
	"time"
)

// State is a pipeline run's position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateTranscribing State = "transcribing"
	StateSummarizing  State = "summarizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// RunInfo describes the latest run.
type RunInfo struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Trigger    string     `json:"trigger,omitempty"`
	State      State      `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Kind       Kind       `json:"kind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot is a consistent read of a Slot.
type Snapshot struct {
	State   State    `json:"state"`
	Summary string   `json:"summary"`
	Set     bool     `json:"set"`
	Run     *RunInfo `json:"run,omitempty"`
}

// Slot holds the single current summary. Only the orchestrator writes it;
// the summary changes only when a run reaches done or failed.
type Slot struct {
	mu      sync.RWMutex
	state   State
	summary string
	set     bool
	run     *RunInfo
}

// NewSlot returns an empty slot in the idle state.
func NewSlot() *Slot {
	return &Slot{state: StateIdle}
}

// Get returns the current contents.
func (s *Slot) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, Summary: s.summary, Set: s.set}
	if s.run != nil {
		r := *s.run
		snap.Run = &r
	}
	return snap
}

// Summary returns the stored summary and whether one is set.
func (s *Slot) Summary() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.set
}

func (s *Slot) begin(run RunInfo) {
	s.mu.Lock()
	s.state = run.State
	s.run = &run
	s.mu.Unlock()
}

func (s *Slot) advance(state State) {
	s.mu.Lock()
	s.state = state
	if s.run != nil {
		s.run.State = state
	}
	s.mu.Unlock()
}

func (s *Slot) complete(summary string, at time.Time) {
	s.mu.Lock()
	s.state = StateDone
	s.summary = summary
	s.set = true
	if s.run != nil {
		s.run.State = StateDone
		s.run.FinishedAt = &at
	}
	s.mu.Unlock()
}

func (s *Slot) fail(e *Error, at time.Time) {
	s.mu.Lock()
	s.state = StateFailed
	s.summary = ""
	s.set = false
	if s.run != nil {
		s.run.State = StateFailed
		s.run.FinishedAt = &at
		s.run.Kind = e.Kind
		s.run.Error = e.Message()
	}
	s.mu.Unlock()
}
