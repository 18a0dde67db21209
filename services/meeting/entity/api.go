package entity

import "time"

type JoinRoomRequest struct {
	RoomName    string
	Participant string
}

type EndMeetingRequest struct {
	MeetingID string
	EndedAt   time.Time
}

type UpdateProcessingRequest struct {
	MeetingID       string
	Status          ProcessingStatus
	Summary         string
	ProcessingError string
}

// MeetingStatusResponse is the client-facing status payload. Phase carries
// the internal processing value for diagnostics while Status folds all
// still-processing phases into "processing".
type MeetingStatusResponse struct {
	MeetingID       string           `json:"meeting_id"`
	RoomName        string           `json:"room_name"`
	Status          CompositeStatus  `json:"status"`
	Phase           ProcessingStatus `json:"phase"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	TranscriptCount int              `json:"transcript_count"`
	HasSummary      bool             `json:"has_summary"`
	Summary         string           `json:"summary,omitempty"`
	ProcessingError string           `json:"processing_error,omitempty"`
}

type RoomStatusResponse struct {
	RoomName         string  `json:"room_name"`
	Active           bool    `json:"active"`
	MeetingID        string  `json:"meeting_id,omitempty"`
	ParticipantCount int     `json:"participant_count"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// ReconcileResult aggregates one abandoned-meeting sweep.
type ReconcileResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
}
