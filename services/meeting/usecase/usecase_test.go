package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetloop/backend/pkg/metrics"
	"github.com/meetloop/backend/services/meeting/dispatch"
	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/storage"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	full bool
}

func (f *fakeEnqueuer) Enqueue(job dispatch.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.jobs = append(f.jobs, job)
	return true
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// flakyStorage fails termination for one chosen meeting to exercise the
// sweep's failure isolation.
type flakyStorage struct {
	storage.Storage
	failID string
}

func (f *flakyStorage) TerminateMeeting(ctx context.Context, id string, p storage.TerminateParams) (*entity.Meeting, bool, error) {
	if id == f.failID {
		return nil, false, errors.New("storage blew up")
	}
	return f.Storage.TerminateMeeting(ctx, id, p)
}

func newTestUsecase(stg storage.Storage) (Usecase, *fakeEnqueuer) {
	enq := &fakeEnqueuer{}
	return New(stg, enq, metrics.Nop(), 30*time.Minute), enq
}

func TestJoinRoomCreatesThenAppends(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m1, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)
	assert.True(t, m1.Active())

	m2, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "bob"})
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)
	assert.Equal(t, []string{"alice", "bob"}, m2.Participants)
}

func TestIngestFragmentOrdering(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	_, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	for _, ts := range []float64{5, 1, 3} {
		err := usc.IngestFragment(ctx, "standup", entity.Fragment{Speaker: "alice", Text: "x", Timestamp: ts})
		require.NoError(t, err)
	}

	m, err := stg.GetActiveMeetingByRoom(ctx, "standup")
	require.NoError(t, err)
	require.Len(t, m.Transcripts, 3)
	assert.Equal(t, []float64{1, 3, 5},
		[]float64{m.Transcripts[0].Timestamp, m.Transcripts[1].Timestamp, m.Transcripts[2].Timestamp})
}

func TestIngestFragmentDiscardsMalformedSilently(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	_, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	// No speaker, no text: dropped without error.
	require.NoError(t, usc.IngestFragment(ctx, "standup", entity.Fragment{Text: "hi", Timestamp: 1}))
	require.NoError(t, usc.IngestFragment(ctx, "standup", entity.Fragment{Speaker: "alice", Timestamp: 1}))

	m, err := stg.GetActiveMeetingByRoom(ctx, "standup")
	require.NoError(t, err)
	assert.Empty(t, m.Transcripts)
}

func TestIngestFragmentUnknownRoom(t *testing.T) {
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	err := usc.IngestFragment(context.Background(), "nowhere",
		entity.Fragment{Speaker: "alice", Text: "hi", Timestamp: 1})
	assert.ErrorIs(t, err, storage.ErrNoActiveMeeting)
}

func TestEndMeetingDispatches(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, enq := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)
	require.NoError(t, usc.IngestFragment(ctx, "standup",
		entity.Fragment{Speaker: "alice", Text: "hello", Timestamp: 1}))

	ended, err := usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)
	assert.True(t, ended.Ended())
	assert.Equal(t, entity.ProcessingPending, ended.ProcessingStatus)

	require.Equal(t, 1, enq.count())
	assert.Equal(t, m.ID, enq.jobs[0].MeetingID)
	assert.Equal(t, "standup", enq.jobs[0].RoomName)
	assert.Len(t, enq.jobs[0].Transcripts, 1)
}

func TestEndMeetingIdempotent(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, enq := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)
	require.NoError(t, usc.IngestFragment(ctx, "standup",
		entity.Fragment{Speaker: "alice", Text: "hello", Timestamp: 1}))

	first, err := usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)
	second, err := usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	require.NotNil(t, first.EndedAt)
	require.NotNil(t, second.EndedAt)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)
	assert.Equal(t, 1, enq.count(), "second end must not dispatch again")
}

func TestEndMeetingEmptyFastPath(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, enq := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	got, err := stg.GetMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ProcessingCompleted, got.ProcessingStatus)
	assert.Equal(t, 0, enq.count(), "empty meeting must not reach the summarizer")
}

func TestReconcileStalenessBoundary(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	now := time.Now()
	fresh, err := stg.CreateMeeting(ctx, "room-29", "alice", now.Add(-29*time.Minute))
	require.NoError(t, err)
	stale, err := stg.CreateMeeting(ctx, "room-31", "bob", now.Add(-31*time.Minute))
	require.NoError(t, err)

	result, err := usc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, &entity.ReconcileResult{Processed: 1, Completed: 1, Errors: 0}, result)

	gotFresh, err := stg.GetMeeting(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, gotFresh.Active(), "29-minute meeting must not be swept")

	gotStale, err := stg.GetMeeting(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, gotStale.Ended(), "31-minute meeting must be swept")
	require.NotNil(t, gotStale.EndedAt)
	assert.Equal(t, stale.LastActivity, *gotStale.EndedAt,
		"abandoned meetings end at their last activity")
}

func TestReconcileIsolation(t *testing.T) {
	ctx := context.Background()
	base := storage.NewMemory()

	now := time.Now()
	m1, err := base.CreateMeeting(ctx, "room-1", "a", now.Add(-time.Hour))
	require.NoError(t, err)
	m2, err := base.CreateMeeting(ctx, "room-2", "b", now.Add(-time.Hour))
	require.NoError(t, err)
	m3, err := base.CreateMeeting(ctx, "room-3", "c", now.Add(-time.Hour))
	require.NoError(t, err)

	stg := &flakyStorage{Storage: base, failID: m2.ID}
	enq := &fakeEnqueuer{}
	usc := New(stg, enq, metrics.Nop(), 30*time.Minute)

	result, err := usc.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 1, result.Errors)

	for _, id := range []string{m1.ID, m3.ID} {
		got, err := base.GetMeeting(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Ended(), "healthy meetings must be terminated despite the failure")
	}
	got2, err := base.GetMeeting(ctx, m2.ID)
	require.NoError(t, err)
	assert.True(t, got2.Active())
}

func TestReconcileEmptyMeetingsCompleteWithoutDispatch(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, enq := newTestUsecase(stg)

	now := time.Now()
	empty, err := stg.CreateMeeting(ctx, "room-empty", "a", now.Add(-time.Hour))
	require.NoError(t, err)
	chatty, err := stg.CreateMeeting(ctx, "room-chatty", "b", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = stg.AppendTranscript(ctx, chatty.ID,
		entity.Fragment{Speaker: "b", Text: "hi", Timestamp: 1}, now.Add(-time.Hour))
	require.NoError(t, err)

	result, err := usc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, &entity.ReconcileResult{Processed: 2, Completed: 2, Errors: 0}, result)

	gotEmpty, err := stg.GetMeeting(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ProcessingCompleted, gotEmpty.ProcessingStatus)

	require.Equal(t, 1, enq.count())
	assert.Equal(t, chatty.ID, enq.jobs[0].MeetingID)
}

// raceStorage replays a stale candidate list even after the meeting ended,
// simulating an explicit end landing between the sweep's select and its
// termination attempt.
type raceStorage struct {
	storage.Storage
	candidates []*entity.Meeting
}

func (r *raceStorage) ListStaleActive(ctx context.Context, olderThan time.Time) ([]*entity.Meeting, error) {
	return r.candidates, nil
}

func TestReconcileOverlapsExplicitEnd(t *testing.T) {
	ctx := context.Background()
	base := storage.NewMemory()

	now := time.Now()
	m, err := base.CreateMeeting(ctx, "room-1", "a", now.Add(-time.Hour))
	require.NoError(t, err)
	snapshot, err := base.AppendTranscript(ctx, m.ID,
		entity.Fragment{Speaker: "a", Text: "hi", Timestamp: 1}, now.Add(-time.Hour))
	require.NoError(t, err)

	stg := &raceStorage{Storage: base, candidates: []*entity.Meeting{snapshot}}
	enq := &fakeEnqueuer{}
	usc := New(stg, enq, metrics.Nop(), 30*time.Minute)

	// Explicit end wins first; the sweep's termination attempt must then
	// resolve to a harmless no-op without a second dispatch.
	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	result, err := usc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, &entity.ReconcileResult{Processed: 1, Completed: 1, Errors: 0}, result)
	assert.Equal(t, 1, enq.count(), "the race loser must not dispatch again")
}

func TestUpdateProcessingAdvances(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := stg.CreateMeeting(ctx, "room-1", "a", time.Now())
	require.NoError(t, err)
	_, err = stg.AppendTranscript(ctx, m.ID,
		entity.Fragment{Speaker: "a", Text: "hi", Timestamp: 1}, time.Now())
	require.NoError(t, err)
	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	got, err := usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID: m.ID,
		Status:    entity.ProcessingInProgress,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.ProcessingInProgress, got.ProcessingStatus)

	got, err = usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID: m.ID,
		Status:    entity.ProcessingSummaryCompleted,
		Summary:   "we agreed on things",
	})
	require.NoError(t, err)
	assert.Equal(t, "we agreed on things", got.Summary)
}

func TestUpdateProcessingRejectsRegression(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := stg.CreateMeeting(ctx, "room-1", "a", time.Now())
	require.NoError(t, err)
	_, err = stg.AppendTranscript(ctx, m.ID,
		entity.Fragment{Speaker: "a", Text: "hi", Timestamp: 1}, time.Now())
	require.NoError(t, err)
	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	_, err = usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID: m.ID,
		Status:    entity.ProcessingInProgress,
	})
	require.NoError(t, err)

	_, err = usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID: m.ID,
		Status:    entity.ProcessingPending,
	})
	assert.ErrorIs(t, err, ErrInvalidProcessingTransition)
}

func TestUpdateProcessingFailureSurfacesError(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := stg.CreateMeeting(ctx, "room-1", "a", time.Now())
	require.NoError(t, err)
	_, err = stg.AppendTranscript(ctx, m.ID,
		entity.Fragment{Speaker: "a", Text: "hi", Timestamp: 1}, time.Now())
	require.NoError(t, err)
	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	_, err = usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID:       m.ID,
		Status:          entity.ProcessingFailed,
		ProcessingError: "model unavailable",
	})
	require.NoError(t, err)

	status, err := usc.MeetingStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CompositeFailed, status.Status)
	assert.Equal(t, "model unavailable", status.ProcessingError)
}

func TestUpdateProcessingRequiresEndedMeeting(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	_, err = usc.UpdateProcessing(ctx, &entity.UpdateProcessingRequest{
		MeetingID: m.ID,
		Status:    entity.ProcessingInProgress,
	})
	assert.ErrorIs(t, err, ErrInvalidProcessingTransition)
}

func TestMeetingStatusProjection(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	status, err := usc.MeetingStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CompositeActive, status.Status)
	assert.False(t, status.HasSummary)

	require.NoError(t, usc.IngestFragment(ctx, "standup",
		entity.Fragment{Speaker: "alice", Text: "hi", Timestamp: 1}))
	_, err = usc.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: m.ID})
	require.NoError(t, err)

	status, err = usc.MeetingStatus(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CompositeProcessing, status.Status)
	assert.Equal(t, entity.ProcessingPending, status.Phase)
	assert.Equal(t, 1, status.TranscriptCount)
}

func TestRoomStatus(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	idle, err := usc.RoomStatus(ctx, "standup")
	require.NoError(t, err)
	assert.False(t, idle.Active)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)
	_, err = usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "bob"})
	require.NoError(t, err)

	busy, err := usc.RoomStatus(ctx, "standup")
	require.NoError(t, err)
	assert.True(t, busy.Active)
	assert.Equal(t, m.ID, busy.MeetingID)
	assert.Equal(t, 2, busy.ParticipantCount)
}

func TestTranscriptBlocks(t *testing.T) {
	ctx := context.Background()
	stg := storage.NewMemory()
	usc, _ := newTestUsecase(stg)

	m, err := usc.JoinRoom(ctx, &entity.JoinRoomRequest{RoomName: "standup", Participant: "alice"})
	require.NoError(t, err)

	for i, f := range []entity.Fragment{
		{Speaker: "A", Text: "hi", Timestamp: 1},
		{Speaker: "A", Text: "there", Timestamp: 2},
		{Speaker: "B", Text: "hey", Timestamp: 3},
	} {
		require.NoError(t, usc.IngestFragment(ctx, "standup", f), "fragment %d", i)
	}

	blocks, err := usc.TranscriptBlocks(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "hi there", blocks[0].Text)
	assert.Equal(t, "hey", blocks[1].Text)
}
