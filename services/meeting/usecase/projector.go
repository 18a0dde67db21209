package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/meetloop/backend/pkg/logger"
	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/storage"
)

// MeetingStatus projects the stored record into the client payload. Read
// only; the still-processing phases all surface as "processing" with the
// internal phase passed through for diagnostics.
func (u *usecase) MeetingStatus(ctx context.Context, meetingID string) (*entity.MeetingStatusResponse, error) {
	m, err := u.storage.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return projectMeeting(ctx, m), nil
}

func projectMeeting(ctx context.Context, m *entity.Meeting) *entity.MeetingStatusResponse {
	status := m.CompositeStatus()
	if status == entity.CompositeUnknown {
		// Should not happen: every stored meeting gets startedAt at creation.
		logger.Warn(ctx, "meeting has no timestamps", "meeting_id", m.ID)
	}

	resp := &entity.MeetingStatusResponse{
		MeetingID:       m.ID,
		RoomName:        m.RoomName,
		Status:          status,
		Phase:           m.ProcessingStatus,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		DurationSeconds: m.Duration().Seconds(),
		TranscriptCount: m.TranscriptCount(),
		HasSummary:      m.Summary != "",
		Summary:         m.Summary,
	}
	if status == entity.CompositeFailed {
		resp.ProcessingError = m.ProcessingError
	}
	return resp
}

// RoomStatus answers whether the room currently has an active meeting.
// An idle room is a valid answer, not an error.
func (u *usecase) RoomStatus(ctx context.Context, roomName string) (*entity.RoomStatusResponse, error) {
	m, err := u.storage.GetActiveMeetingByRoom(ctx, roomName)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveMeeting) {
			return &entity.RoomStatusResponse{RoomName: roomName}, nil
		}
		return nil, err
	}

	elapsed := 0.0
	if m.StartedAt != nil {
		elapsed = time.Since(*m.StartedAt).Seconds()
	}

	return &entity.RoomStatusResponse{
		RoomName:         roomName,
		Active:           true,
		MeetingID:        m.ID,
		ParticipantCount: len(m.Participants),
		ElapsedSeconds:   elapsed,
	}, nil
}

// TranscriptBlocks returns the display transform: consecutive same-speaker
// fragments coalesced into blocks. The stored order is left untouched.
func (u *usecase) TranscriptBlocks(ctx context.Context, meetingID string) ([]entity.Block, error) {
	m, err := u.storage.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return entity.CoalesceBlocks(m.Transcripts), nil
}
