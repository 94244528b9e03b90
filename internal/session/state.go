package session

import (
	"errors"
	"time"

	"codeguard/internal/types"
)

var (
	ErrSessionTimeout = errors.New("session timed out")
	ErrCancelled      = errors.New("session cancelled")
	ErrNotFound       = errors.New("session not found")
	ErrNotCompleted   = errors.New("session not completed")
	ErrTerminal       = errors.New("session already finished")
)

type State string

const (
	Initializing State = "initializing"
	Fuzzing      State = "fuzzing"
	Analyzing    State = "analyzing"
	Completed    State = "completed"
	Failed       State = "failed"
	Cancelled    State = "cancelled"
)

func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// rank orders the states along the lifecycle; transitions never lower it.
func (s State) rank() int {
	switch s {
	case Initializing:
		return 0
	case Fuzzing:
		return 1
	case Analyzing:
		return 2
	}
	return 3
}

type EventKind int

const (
	// EventFuzzingStarted moves initializing to fuzzing.
	EventFuzzingStarted EventKind = iota
	// EventAnalysisStarted ends fuzzing, or skips it in direct mode.
	EventAnalysisStarted
	EventCompleted
	EventFailed
	EventTimeout
	EventCancel
	// EventProgress carries counters only.
	EventProgress
)

func (k EventKind) String() string {
	switch k {
	case EventFuzzingStarted:
		return "fuzzing_started"
	case EventAnalysisStarted:
		return "analysis_started"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventTimeout:
		return "timeout"
	case EventCancel:
		return "cancel"
	case EventProgress:
		return "progress"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	At   time.Time

	Err     error                       // EventFailed
	Result  []types.VulnerabilityReport // EventCompleted
	Crashes int                         // EventProgress: crash inputs seen so far, when > 0
	Pair    *types.Progress             // EventProgress: one attempted triage pair
}

// Transition is the lifecycle table. Terminal states absorb every event and
// no transition goes back.
func Transition(s State, e EventKind) State {
	if s.Terminal() {
		return s
	}
	switch e {
	case EventCancel:
		return Cancelled
	case EventTimeout, EventFailed:
		return Failed
	case EventFuzzingStarted:
		if s == Initializing {
			return Fuzzing
		}
	case EventAnalysisStarted:
		if s == Initializing || s == Fuzzing {
			return Analyzing
		}
	case EventCompleted:
		if s == Analyzing {
			return Completed
		}
	}
	return s
}

// Session is a snapshot of one analysis run.
type Session struct {
	ID         string
	SourcePath string
	State      State
	Mode       string
	StartedAt  time.Time
	EndedAt    time.Time

	CrashCount     int
	TriagedPairs   int
	TotalPairs     int
	PartialResults int // raw reports produced so far

	Result []types.VulnerabilityReport
	Err    error
}

// Apply is Transition lifted to the whole snapshot. It is pure: s is not
// modified and the returned snapshot owns no memory shared with e.
func Apply(s Session, e Event) Session {
	if s.State.Terminal() {
		return s
	}
	next := s
	next.State = Transition(s.State, e.Kind)

	switch e.Kind {
	case EventProgress:
		if e.Crashes > next.CrashCount {
			next.CrashCount = e.Crashes
		}
		if e.Pair != nil {
			next.TriagedPairs = max(next.TriagedPairs, e.Pair.Attempted)
			next.TotalPairs = e.Pair.Total
			if e.Pair.Err == nil {
				next.PartialResults++
			}
		}
	case EventCompleted:
		if next.State == Completed {
			next.Result = append([]types.VulnerabilityReport{}, e.Result...)
		}
	case EventFailed:
		next.Err = e.Err
		if next.Err == nil {
			next.Err = errors.New("analysis failed")
		}
	case EventTimeout:
		next.Err = ErrSessionTimeout
	case EventCancel:
		next.Err = ErrCancelled
	}

	if next.State.Terminal() {
		next.EndedAt = e.At
	}
	return next
}
