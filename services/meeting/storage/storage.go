package storage

import (
	"context"
	"errors"
	"time"

	"github.com/meetloop/backend/services/meeting/entity"
)

var (
	ErrMeetingNotFound = errors.New("meeting not found")
	ErrNoActiveMeeting = errors.New("no active meeting for room")
	ErrMeetingEnded    = errors.New("meeting already ended")
	ErrRoomBusy        = errors.New("room already has an active meeting")

	// ErrProcessingConflict means the conditional processing update lost its
	// race: the stored status no longer matched the expected prior value.
	ErrProcessingConflict = errors.New("processing status conflict")
)

// TerminateParams is the termination payload. Transcripts and Participants
// are optional final snapshots from the caller; nil keeps what the store
// already holds. EndedAt is required.
type TerminateParams struct {
	EndedAt      time.Time
	Transcripts  []entity.Transcript
	Participants []string
}

// UpdateProcessingParams is a conditional write keyed on the expected prior
// status. Summary and ProcessingError are applied together with Next.
type UpdateProcessingParams struct {
	Expected        entity.ProcessingStatus
	Next            entity.ProcessingStatus
	Summary         string
	ProcessingError string
}

// Storage is the persistent store boundary. Implementations must make
// TerminateMeeting a single atomic compare-and-set on "not yet ended":
// two concurrent callers may both attempt it, and exactly one wins.
type Storage interface {
	// CreateMeeting starts a meeting for the room with the first participant.
	// Fails with ErrRoomBusy when the room already has an active meeting.
	CreateMeeting(ctx context.Context, roomName, participant string, startedAt time.Time) (*entity.Meeting, error)

	GetMeeting(ctx context.Context, id string) (*entity.Meeting, error)

	// GetActiveMeetingByRoom returns ErrNoActiveMeeting when the room is idle.
	GetActiveMeetingByRoom(ctx context.Context, roomName string) (*entity.Meeting, error)

	// AddParticipant records an identity (set semantics) and refreshes
	// lastActivity. Fails with ErrMeetingEnded on an ended meeting.
	AddParticipant(ctx context.Context, id, participant string, at time.Time) (*entity.Meeting, error)

	// AppendTranscript assigns the arrival sequence number, inserts the
	// fragment in timestamp order and refreshes lastActivity. Fails with
	// ErrMeetingEnded on an ended meeting.
	AppendTranscript(ctx context.Context, id string, f entity.Fragment, at time.Time) (*entity.Meeting, error)

	// TerminateMeeting ends the meeting exactly once. The boolean reports
	// whether this call performed the termination; when false the meeting
	// was already ended and the stored record is returned unchanged.
	TerminateMeeting(ctx context.Context, id string, p TerminateParams) (*entity.Meeting, bool, error)

	// UpdateProcessing advances processingStatus under the Expected guard.
	UpdateProcessing(ctx context.Context, id string, p UpdateProcessingParams) (*entity.Meeting, error)

	// ListStaleActive returns active meetings whose lastActivity is strictly
	// older than the given cutoff.
	ListStaleActive(ctx context.Context, olderThan time.Time) ([]*entity.Meeting, error)
}
