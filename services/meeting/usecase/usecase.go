package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meetloop/backend/pkg/logger"
	"github.com/meetloop/backend/pkg/metrics"
	"github.com/meetloop/backend/services/meeting/dispatch"
	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/storage"
)

var ErrInvalidProcessingTransition = errors.New("invalid processing transition")

// Enqueuer is the slice of the dispatcher the coordinator needs.
type Enqueuer interface {
	Enqueue(job dispatch.Job) bool
}

type Usecase interface {
	JoinRoom(ctx context.Context, req *entity.JoinRoomRequest) (*entity.Meeting, error)
	IngestFragment(ctx context.Context, roomName string, f entity.Fragment) error
	EndMeeting(ctx context.Context, req *entity.EndMeetingRequest) (*entity.Meeting, error)
	Reconcile(ctx context.Context) (*entity.ReconcileResult, error)
	MeetingStatus(ctx context.Context, meetingID string) (*entity.MeetingStatusResponse, error)
	RoomStatus(ctx context.Context, roomName string) (*entity.RoomStatusResponse, error)
	TranscriptBlocks(ctx context.Context, meetingID string) ([]entity.Block, error)
	UpdateProcessing(ctx context.Context, req *entity.UpdateProcessingRequest) (*entity.Meeting, error)
}

type usecase struct {
	storage    storage.Storage
	dispatcher Enqueuer
	metrics    *metrics.Metrics
	staleAfter time.Duration
}

func New(stg storage.Storage, dispatcher Enqueuer, m *metrics.Metrics, staleAfter time.Duration) Usecase {
	return &usecase{
		storage:    stg,
		dispatcher: dispatcher,
		metrics:    m,
		staleAfter: staleAfter,
	}
}

// JoinRoom creates the meeting when the room goes from empty to occupied,
// otherwise records the participant on the existing active meeting.
func (u *usecase) JoinRoom(ctx context.Context, req *entity.JoinRoomRequest) (*entity.Meeting, error) {
	log := logger.FromContext(ctx)
	now := time.Now()

	m, err := u.storage.GetActiveMeetingByRoom(ctx, req.RoomName)
	if err == nil {
		return u.storage.AddParticipant(ctx, m.ID, req.Participant, now)
	}
	if !errors.Is(err, storage.ErrNoActiveMeeting) {
		return nil, err
	}

	m, err = u.storage.CreateMeeting(ctx, req.RoomName, req.Participant, now)
	if err == nil {
		log.Info("meeting started",
			"meeting_id", m.ID,
			"room", req.RoomName,
			"participant", req.Participant)
		return m, nil
	}

	// Someone else created it between the lookup and the insert.
	if errors.Is(err, storage.ErrRoomBusy) {
		m, lookupErr := u.storage.GetActiveMeetingByRoom(ctx, req.RoomName)
		if lookupErr != nil {
			return nil, err
		}
		return u.storage.AddParticipant(ctx, m.ID, req.Participant, now)
	}

	return nil, err
}

// IngestFragment validates and stores one transcript fragment for the room's
// active meeting. Malformed fragments are discarded without error: this is
// a best-effort realtime channel, not a transactional one. Fragments that
// race past termination are dropped the same way.
func (u *usecase) IngestFragment(ctx context.Context, roomName string, f entity.Fragment) error {
	log := logger.FromContext(ctx)

	if !entity.ValidateFragment(f) {
		u.metrics.FragmentsDiscarded.Inc()
		log.Debug("discarding malformed fragment",
			"room", roomName,
			"speaker", f.Speaker)
		return nil
	}

	m, err := u.storage.GetActiveMeetingByRoom(ctx, roomName)
	if err != nil {
		return err
	}

	_, err = u.storage.AppendTranscript(ctx, m.ID, f, time.Now())
	if errors.Is(err, storage.ErrMeetingEnded) {
		u.metrics.FragmentsDiscarded.Inc()
		log.Debug("dropping fragment for ended meeting", "meeting_id", m.ID)
		return nil
	}
	if err != nil {
		return err
	}

	u.metrics.FragmentsAccepted.Inc()
	return nil
}

// EndMeeting is the explicit termination trigger. The storage layer's
// compare-and-set makes it idempotent against the reconciler and against
// duplicate disconnect signals.
func (u *usecase) EndMeeting(ctx context.Context, req *entity.EndMeetingRequest) (*entity.Meeting, error) {
	log := logger.FromContext(ctx)

	endedAt := req.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	m, terminated, err := u.storage.TerminateMeeting(ctx, req.MeetingID, storage.TerminateParams{
		EndedAt: endedAt,
	})
	if err != nil {
		return nil, err
	}
	if !terminated {
		u.metrics.TerminationRaces.Inc()
		log.Info("meeting already ended", "meeting_id", req.MeetingID)
		return m, nil
	}

	u.metrics.Terminations.Inc()
	log.Info("meeting ended",
		"meeting_id", m.ID,
		"room", m.RoomName,
		"transcripts", m.TranscriptCount())

	if err := u.finishOrDispatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// finishOrDispatch runs the post-termination decision: meetings with no
// transcripts complete immediately, everything else goes to the
// summarization pool fire-and-forget.
func (u *usecase) finishOrDispatch(ctx context.Context, m *entity.Meeting) error {
	log := logger.FromContext(ctx)

	if m.TranscriptCount() == 0 {
		_, err := u.storage.UpdateProcessing(ctx, m.ID, storage.UpdateProcessingParams{
			Expected: entity.ProcessingPending,
			Next:     entity.ProcessingCompleted,
		})
		if err != nil && !errors.Is(err, storage.ErrProcessingConflict) {
			return fmt.Errorf("failed to complete empty meeting: %w", err)
		}
		log.Info("empty meeting completed without dispatch", "meeting_id", m.ID)
		return nil
	}

	u.dispatcher.Enqueue(dispatch.Job{
		MeetingID:    m.ID,
		RoomName:     m.RoomName,
		Transcripts:  m.Transcripts,
		Participants: m.Participants,
	})
	return nil
}

// Reconcile force-terminates meetings whose last activity is older than the
// staleness threshold. Per-meeting failures are isolated and counted; the
// sweep never aborts because one candidate misbehaved. Overlapping sweeps
// and races with explicit ends are safe because termination is idempotent.
func (u *usecase) Reconcile(ctx context.Context) (*entity.ReconcileResult, error) {
	log := logger.FromContext(ctx)
	result := &entity.ReconcileResult{}

	cutoff := time.Now().Add(-u.staleAfter)
	candidates, err := u.storage.ListStaleActive(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale meetings: %w", err)
	}

	u.metrics.SweepsTotal.Inc()
	log.Info("reconciliation sweep started",
		"candidates", len(candidates),
		"cutoff", cutoff)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			log.Warn("sweep budget exhausted, yielding",
				"processed", result.Processed,
				"remaining", len(candidates)-result.Processed)
			break
		}

		result.Processed++

		m, terminated, err := u.storage.TerminateMeeting(ctx, candidate.ID, storage.TerminateParams{
			EndedAt: candidate.LastActivity,
		})
		if err != nil {
			result.Errors++
			u.metrics.SweepErrors.Inc()
			logger.ErrorErr(ctx, "failed to reconcile meeting", err,
				"meeting_id", candidate.ID)
			continue
		}
		if !terminated {
			// The explicit-end path won the race and already dispatched.
			u.metrics.TerminationRaces.Inc()
			result.Completed++
			continue
		}

		u.metrics.Terminations.Inc()
		log.Info("abandoned meeting terminated",
			"meeting_id", m.ID,
			"room", m.RoomName,
			"last_activity", m.LastActivity)

		if err := u.finishOrDispatch(ctx, m); err != nil {
			result.Errors++
			u.metrics.SweepErrors.Inc()
			logger.ErrorErr(ctx, "failed to finish reconciled meeting", err,
				"meeting_id", m.ID)
			continue
		}

		result.Completed++
	}

	log.Info("reconciliation sweep finished",
		"processed", result.Processed,
		"completed", result.Completed,
		"errors", result.Errors)
	return result, nil
}

// UpdateProcessing is the summarization collaborator's asynchronous write
// path. Transitions only move forward (or into failed); the storage guard
// on the expected prior status keeps racing updaters from regressing it.
func (u *usecase) UpdateProcessing(ctx context.Context, req *entity.UpdateProcessingRequest) (*entity.Meeting, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("status %q: %w", req.Status, ErrInvalidProcessingTransition)
	}

	m, err := u.storage.GetMeeting(ctx, req.MeetingID)
	if err != nil {
		return nil, err
	}
	if !m.Ended() {
		return nil, fmt.Errorf("meeting %q is not ended: %w", req.MeetingID, ErrInvalidProcessingTransition)
	}
	if !m.ProcessingStatus.CanAdvanceTo(req.Status) {
		return nil, fmt.Errorf("%q -> %q: %w", m.ProcessingStatus, req.Status, ErrInvalidProcessingTransition)
	}

	return u.storage.UpdateProcessing(ctx, req.MeetingID, storage.UpdateProcessingParams{
		Expected:        m.ProcessingStatus,
		Next:            req.Status,
		Summary:         req.Summary,
		ProcessingError: req.ProcessingError,
	})
}
