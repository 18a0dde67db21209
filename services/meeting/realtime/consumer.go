// Package realtime consumes transcript fragments and disconnect signals
// from the media transport over redis pub/sub. Delivery is at-least-once
// and unordered; the aggregator's timestamp ordering and the idempotent
// termination make both properties harmless.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/usecase"
	"github.com/meetloop/backend/topics"
)

type Consumer struct {
	client  *redis.Client
	usecase usecase.Usecase
	log     *slog.Logger
}

type fragmentEvent struct {
	RoomName  string  `json:"room_name"`
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type disconnectEvent struct {
	RoomName  string `json:"room_name"`
	MeetingID string `json:"meeting_id"`
}

func New(client *redis.Client, usc usecase.Usecase, log *slog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		usecase: usc,
		log:     log,
	}
}

// Run blocks consuming both channels until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, topics.Transcripts.Name(), topics.Disconnects.Name())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	c.log.Info("realtime consumer started",
		slog.String("transcripts_topic", topics.Transcripts.Name()),
		slog.String("disconnects_topic", topics.Disconnects.Name()))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("realtime consumer stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *redis.Message) {
	switch msg.Channel {
	case topics.Transcripts.Name():
		c.handleFragment(ctx, msg.Payload)
	case topics.Disconnects.Name():
		c.handleDisconnect(ctx, msg.Payload)
	default:
		c.log.Warn("message on unexpected channel", slog.String("channel", msg.Channel))
	}
}

func (c *Consumer) handleFragment(ctx context.Context, payload string) {
	var ev fragmentEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		// Best-effort channel: undecodable payloads are dropped.
		c.log.Debug("dropping undecodable fragment", slog.String("error", err.Error()))
		return
	}
	if ev.RoomName == "" {
		c.log.Debug("dropping fragment without room")
		return
	}

	err := c.usecase.IngestFragment(ctx, ev.RoomName, entity.Fragment{
		Speaker:   ev.Speaker,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		c.log.Warn("failed to ingest fragment",
			slog.String("room", ev.RoomName),
			slog.String("error", err.Error()))
	}
}

func (c *Consumer) handleDisconnect(ctx context.Context, payload string) {
	var ev disconnectEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.log.Debug("dropping undecodable disconnect", slog.String("error", err.Error()))
		return
	}

	meetingID := ev.MeetingID
	if meetingID == "" && ev.RoomName != "" {
		status, err := c.usecase.RoomStatus(ctx, ev.RoomName)
		if err != nil || !status.Active {
			c.log.Debug("disconnect for idle room", slog.String("room", ev.RoomName))
			return
		}
		meetingID = status.MeetingID
	}
	if meetingID == "" {
		c.log.Debug("dropping disconnect without meeting or room")
		return
	}

	if _, err := c.usecase.EndMeeting(ctx, &entity.EndMeetingRequest{MeetingID: meetingID}); err != nil {
		c.log.Warn("failed to end meeting on disconnect",
			slog.String("meeting_id", meetingID),
			slog.String("error", err.Error()))
		return
	}
	c.log.Info("meeting ended on disconnect signal", slog.String("meeting_id", meetingID))
}
