package entity

import (
	"slices"
	"time"
)

// Transcript is one accepted unit of transcribed speech. Immutable once stored.
// Seq records arrival order and breaks ties between equal timestamps.
type Transcript struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	Seq       uint64  `json:"seq"`
}

// Fragment is a transcript unit as delivered by the realtime transport,
// before validation and sequencing.
type Fragment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// Meeting is one continuous recorded occupancy of a room.
type Meeting struct {
	ID               string
	RoomName         string
	StartedAt        *time.Time
	EndedAt          *time.Time
	LastActivity     time.Time
	Participants     []string
	Transcripts      []Transcript
	ProcessingStatus ProcessingStatus
	Summary          string
	ProcessingError  string
}

func (m *Meeting) Ended() bool {
	return m.EndedAt != nil
}

func (m *Meeting) Active() bool {
	return m.StartedAt != nil && m.EndedAt == nil
}

func (m *Meeting) TranscriptCount() int {
	return len(m.Transcripts)
}

// Duration is zero until the meeting has both timestamps.
func (m *Meeting) Duration() time.Duration {
	if m.StartedAt == nil || m.EndedAt == nil {
		return 0
	}
	return m.EndedAt.Sub(*m.StartedAt)
}

func (m *Meeting) HasParticipant(identity string) bool {
	return slices.Contains(m.Participants, identity)
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the transcript and participant slices.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	out := *m
	out.Participants = slices.Clone(m.Participants)
	out.Transcripts = slices.Clone(m.Transcripts)
	if m.StartedAt != nil {
		t := *m.StartedAt
		out.StartedAt = &t
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		out.EndedAt = &t
	}
	return &out
}
