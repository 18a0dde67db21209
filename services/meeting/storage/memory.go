package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meetloop/backend/pkg/gen"
	"github.com/meetloop/backend/services/meeting/entity"
)

type record struct {
	meeting *entity.Meeting
	nextSeq uint64
}

// memory is the in-process Storage used for tests and local development.
// A single mutex stands in for the conditional-write discipline the
// postgres implementation gets from the database.
type memory struct {
	mu       sync.RWMutex
	meetings map[string]*record
	byRoom   map[string]string // room name -> active meeting id
	ids      gen.UUIDGenerator
}

func NewMemory() Storage {
	return &memory{
		meetings: make(map[string]*record),
		byRoom:   make(map[string]string),
		ids:      gen.UUID(),
	}
}

func (s *memory) CreateMeeting(ctx context.Context, roomName, participant string, startedAt time.Time) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byRoom[roomName]; ok {
		if rec, ok := s.meetings[id]; ok && rec.meeting.Active() {
			return nil, fmt.Errorf("room %q: %w", roomName, ErrRoomBusy)
		}
	}

	started := startedAt
	m := &entity.Meeting{
		ID:               s.ids.NextString(),
		RoomName:         roomName,
		StartedAt:        &started,
		LastActivity:     startedAt,
		Participants:     []string{participant},
		ProcessingStatus: entity.ProcessingPending,
	}

	s.meetings[m.ID] = &record{meeting: m, nextSeq: 1}
	s.byRoom[roomName] = m.ID

	return m.Clone(), nil
}

func (s *memory) GetMeeting(ctx context.Context, id string) (*entity.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingNotFound)
	}
	return rec.meeting.Clone(), nil
}

func (s *memory) GetActiveMeetingByRoom(ctx context.Context, roomName string) (*entity.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRoom[roomName]
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomName, ErrNoActiveMeeting)
	}
	rec, ok := s.meetings[id]
	if !ok || !rec.meeting.Active() {
		return nil, fmt.Errorf("room %q: %w", roomName, ErrNoActiveMeeting)
	}
	return rec.meeting.Clone(), nil
}

func (s *memory) AddParticipant(ctx context.Context, id, participant string, at time.Time) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingNotFound)
	}
	if rec.meeting.Ended() {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingEnded)
	}

	if !rec.meeting.HasParticipant(participant) {
		rec.meeting.Participants = append(rec.meeting.Participants, participant)
	}
	rec.meeting.LastActivity = at

	return rec.meeting.Clone(), nil
}

func (s *memory) AppendTranscript(ctx context.Context, id string, f entity.Fragment, at time.Time) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingNotFound)
	}
	if rec.meeting.Ended() {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingEnded)
	}

	t := entity.Transcript{
		Speaker:   f.Speaker,
		Text:      f.Text,
		Timestamp: f.Timestamp,
		Seq:       rec.nextSeq,
	}
	rec.nextSeq++

	rec.meeting.Transcripts = entity.InsertTranscript(rec.meeting.Transcripts, t)
	rec.meeting.LastActivity = at

	return rec.meeting.Clone(), nil
}

func (s *memory) TerminateMeeting(ctx context.Context, id string, p TerminateParams) (*entity.Meeting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.meetings[id]
	if !ok {
		return nil, false, fmt.Errorf("meeting %q: %w", id, ErrMeetingNotFound)
	}

	// Already ended: idempotent no-op, return the stored record unchanged.
	if rec.meeting.Ended() {
		return rec.meeting.Clone(), false, nil
	}

	ended := p.EndedAt
	rec.meeting.EndedAt = &ended
	if p.Transcripts != nil {
		rec.meeting.Transcripts = p.Transcripts
	}
	if p.Participants != nil {
		rec.meeting.Participants = p.Participants
	}
	rec.meeting.ProcessingStatus = entity.ProcessingPending

	if s.byRoom[rec.meeting.RoomName] == id {
		delete(s.byRoom, rec.meeting.RoomName)
	}

	return rec.meeting.Clone(), true, nil
}

func (s *memory) UpdateProcessing(ctx context.Context, id string, p UpdateProcessingParams) (*entity.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %q: %w", id, ErrMeetingNotFound)
	}
	if rec.meeting.ProcessingStatus != p.Expected {
		return nil, fmt.Errorf("meeting %q: expected %q, have %q: %w",
			id, p.Expected, rec.meeting.ProcessingStatus, ErrProcessingConflict)
	}

	rec.meeting.ProcessingStatus = p.Next
	if p.Summary != "" {
		rec.meeting.Summary = p.Summary
	}
	if p.ProcessingError != "" {
		rec.meeting.ProcessingError = p.ProcessingError
	}

	return rec.meeting.Clone(), nil
}

func (s *memory) ListStaleActive(ctx context.Context, olderThan time.Time) ([]*entity.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Meeting
	for _, rec := range s.meetings {
		if rec.meeting.Active() && rec.meeting.LastActivity.Before(olderThan) {
			out = append(out, rec.meeting.Clone())
		}
	}
	return out, nil
}
