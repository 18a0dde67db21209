package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	config "github.com/meetloop/backend/config/meeting"
	"github.com/meetloop/backend/services/meeting/dispatch"
	"github.com/meetloop/backend/services/meeting/entity"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type SummarizeRequest struct {
	MeetingID    string              `json:"meeting_id"`
	RoomName     string              `json:"room_name"`
	Transcripts  []entity.Transcript `json:"transcripts"`
	Participants []string            `json:"participants"`
}

func New(cfg *config.ServiceConfig, log *slog.Logger) *Client {
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Url, cfg.Port)
	log.Debug("creating summarizer client", slog.String("base_url", baseURL))
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		log:        log,
	}
}

// Summarize submits an ended meeting for summarization. The collaborator
// answers 202 and reports results later through the processing callback.
func (c *Client) Summarize(ctx context.Context, job dispatch.Job) error {
	reqBody := SummarizeRequest{
		MeetingID:    job.MeetingID,
		RoomName:     job.RoomName,
		Transcripts:  job.Transcripts,
		Participants: job.Participants,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/v1/summarize"
	c.log.Debug("sending summarize request",
		slog.String("url", url),
		slog.String("meeting_id", job.MeetingID),
		slog.Int("transcripts", len(job.Transcripts)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	c.log.Debug("summarize request accepted",
		slog.String("meeting_id", job.MeetingID),
		slog.Int("status_code", resp.StatusCode))
	return nil
}
