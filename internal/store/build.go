package store

import "time"

// BuildProgress names the pipeline step a Running or Fatal build state is
// currently (or was last) in.
type BuildProgress string

const (
	ProgressResolve BuildProgress = "resolve"
	ProgressUpdate  BuildProgress = "update"
	ProgressBuild   BuildProgress = "build"
	ProgressPublish BuildProgress = "publish"
	ProgressClean   BuildProgress = "clean"
)

// BuildStateKind discriminates the BuildState tagged union (spec §3).
type BuildStateKind string

const (
	StatePending   BuildStateKind = "pending"
	StateCancelled BuildStateKind = "cancelled"
	StateRunning   BuildStateKind = "running"
	StateSuccess   BuildStateKind = "success"
	StateFailure   BuildStateKind = "failure"
	StateFatal     BuildStateKind = "fatal"
)

// BuildState is a tagged union over the states a build summary can be in.
// Only the fields relevant to Kind are populated; the zero value of the
// others is ignored on encode and re-zeroed on decode of a different kind.
type BuildState struct {
	Kind     BuildStateKind `json:"kind"`
	Reason   string         `json:"reason,omitempty"`   // Cancelled
	Progress BuildProgress  `json:"progress,omitempty"` // Running, Fatal
	Message  string         `json:"message,omitempty"`  // Fatal
}

func Pending() BuildState { return BuildState{Kind: StatePending} }

func Cancelled(reason string) BuildState {
	return BuildState{Kind: StateCancelled, Reason: reason}
}

func Running(progress BuildProgress) BuildState {
	return BuildState{Kind: StateRunning, Progress: progress}
}

func Success() BuildState { return BuildState{Kind: StateSuccess} }

func Failure() BuildState { return BuildState{Kind: StateFailure} }

func Fatal(message string, progress BuildProgress) BuildState {
	return BuildState{Kind: StateFatal, Message: message, Progress: progress}
}

// IsTerminal reports whether no further step will run for a build in this
// state (spec §3: Cancelled, Success, Failure, Fatal are terminal).
func (s BuildState) IsTerminal() bool {
	switch s.Kind {
	case StateCancelled, StateSuccess, StateFailure, StateFatal:
		return true
	default:
		return false
	}
}

// BuildReason tags why a build summary was created.
type BuildReason string

const (
	ReasonWebhook  BuildReason = "webhook"
	ReasonManual   BuildReason = "manual"
	ReasonSchedule BuildReason = "schedule"
	ReasonInitial  BuildReason = "initial"
	ReasonUnknown  BuildReason = "unknown"
)

// RunStatus is the sandbox's report of one container run, embedded verbatim
// in the build summary regardless of exit outcome.
type RunStatus struct {
	Success   bool      `json:"success"`
	Log       string    `json:"log"` // combined stdout+stderr
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// BuildSummary is keyed by (Base, StartedAt); see spec §3.
type BuildSummary struct {
	Base      string      `json:"base"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	State     BuildState  `json:"state"`
	Version   *string     `json:"version,omitempty"`
	Run       *RunStatus  `json:"run,omitempty"`
	Reason    BuildReason `json:"reason"`
}

// SetState transitions the summary's state, stamping EndedAt the moment the
// new state becomes terminal. Callers must persist the summary afterward.
func (s *BuildSummary) SetState(now time.Time, state BuildState) {
	s.State = state
	if state.IsTerminal() {
		t := now
		s.EndedAt = &t
	} else {
		s.EndedAt = nil
	}
}
