// Package dispatch owns the fire-and-forget handoff to the summarization
// collaborator: a bounded worker pool so dispatch failures are observable
// and counted instead of vanishing with an abandoned goroutine.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meetloop/backend/pkg/metrics"
	"github.com/meetloop/backend/services/meeting/entity"
)

// Job is the summarization payload for one ended meeting.
type Job struct {
	MeetingID    string
	RoomName     string
	Transcripts  []entity.Transcript
	Participants []string
}

// Summarizer is the downstream collaborator. It responds asynchronously by
// writing processing status back through the meeting service's own API, so
// a nil error here only means the job was accepted.
type Summarizer interface {
	Summarize(ctx context.Context, job Job) error
}

type Dispatcher struct {
	summarizer Summarizer
	jobs       chan Job
	timeout    time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts the worker pool. Close must be called to drain it.
func New(summarizer Summarizer, workers, queueSize int, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &Dispatcher{
		summarizer: summarizer,
		jobs:       make(chan Job, queueSize),
		timeout:    30 * time.Second,
		log:        log,
		metrics:    m,
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	log.Info("dispatch worker pool started",
		slog.Int("workers", workers),
		slog.Int("queue_size", queueSize))

	return d
}

// Enqueue hands a job to the pool without blocking the caller. A full queue
// drops the job; the meeting stays pending and a later sweep or retry path
// picks it up again.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.jobs <- job:
		d.metrics.DispatchEnqueued.Inc()
		return true
	default:
		d.metrics.DispatchDropped.Inc()
		d.log.Warn("dispatch queue full, dropping job",
			slog.String("meeting_id", job.MeetingID),
			slog.String("room", job.RoomName))
		return false
	}
}

// Close stops accepting jobs and waits for in-flight dispatches.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.summarizer.Summarize(ctx, job)
		cancel()

		if err != nil {
			d.metrics.DispatchFailed.Inc()
			d.log.Error("summarization dispatch failed",
				slog.String("meeting_id", job.MeetingID),
				slog.String("room", job.RoomName),
				slog.String("error", err.Error()))
			continue
		}

		d.metrics.DispatchSucceeded.Inc()
		d.log.Info("summarization dispatched",
			slog.String("meeting_id", job.MeetingID),
			slog.Int("transcripts", len(job.Transcripts)))
	}
}
