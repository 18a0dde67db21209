package entity

// ProcessingStatus tracks the downstream summarization pipeline for an ended
// meeting. It only moves forward, except that any non-terminal value may drop
// into failed. completed and failed are terminal.
type ProcessingStatus string

const (
	ProcessingPending          ProcessingStatus = "pending"
	ProcessingInProgress       ProcessingStatus = "in_progress"
	ProcessingSummaryCompleted ProcessingStatus = "summary_completed"
	ProcessingCompleted        ProcessingStatus = "completed"
	ProcessingFailed           ProcessingStatus = "failed"
)

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingInProgress, ProcessingSummaryCompleted,
		ProcessingCompleted, ProcessingFailed:
		return true
	}
	return false
}

func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

func (s ProcessingStatus) rank() int {
	switch s {
	case ProcessingPending:
		return 0
	case ProcessingInProgress:
		return 1
	case ProcessingSummaryCompleted:
		return 2
	case ProcessingCompleted:
		return 3
	case ProcessingFailed:
		return 4
	}
	return -1
}

// CanAdvanceTo reports whether the transition s -> next is legal. Forward
// jumps are allowed (a meeting with no transcripts goes pending -> completed
// directly); regressions are not, and terminal states accept nothing.
func (s ProcessingStatus) CanAdvanceTo(next ProcessingStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if next == ProcessingFailed {
		return true
	}
	return next.rank() > s.rank()
}

// Status is the stored lifecycle state of a meeting.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

func (m *Meeting) Status() Status {
	switch {
	case m.StartedAt != nil && m.EndedAt == nil:
		return StatusActive
	case m.StartedAt != nil && m.EndedAt != nil:
		return StatusEnded
	default:
		return StatusScheduled
	}
}

// CompositeStatus is the externally observable state, folding the lifecycle
// and the processing sub-state together.
type CompositeStatus string

const (
	CompositeActive     CompositeStatus = "active"
	CompositeProcessing CompositeStatus = "processing"
	CompositeCompleted  CompositeStatus = "completed"
	CompositeFailed     CompositeStatus = "failed"
	CompositeUnknown    CompositeStatus = "unknown"
)

func (m *Meeting) CompositeStatus() CompositeStatus {
	if m.StartedAt == nil && m.EndedAt == nil {
		return CompositeUnknown
	}
	if m.EndedAt == nil {
		return CompositeActive
	}
	switch m.ProcessingStatus {
	case ProcessingCompleted:
		return CompositeCompleted
	case ProcessingFailed:
		return CompositeFailed
	case ProcessingPending, ProcessingInProgress, ProcessingSummaryCompleted:
		return CompositeProcessing
	default:
		return CompositeUnknown
	}
}
