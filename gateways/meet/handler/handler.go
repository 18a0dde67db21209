package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	pkgjson "github.com/meetloop/backend/pkg/json"
	"github.com/meetloop/backend/services/meeting/entity"
	"github.com/meetloop/backend/services/meeting/storage"
	"github.com/meetloop/backend/services/meeting/usecase"
)

type Handler struct {
	usecase usecase.Usecase
	log     *slog.Logger
}

func New(usc usecase.Usecase, log *slog.Logger) *Handler {
	return &Handler{
		usecase: usc,
		log:     log,
	}
}

type JoinRoomRequest struct {
	Participant string `json:"participant"`
}

type IngestFragmentRequest struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

type UpdateProcessingRequest struct {
	Status          string `json:"status"`
	Summary         string `json:"summary"`
	ProcessingError string `json:"processing_error"`
}

type TranscriptResponse struct {
	MeetingID string         `json:"meeting_id"`
	Blocks    []entity.Block `json:"blocks"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", h.HealthCheck)

		api.Route("/rooms/{room_name}", func(rooms chi.Router) {
			rooms.Get("/status", h.RoomStatus)
			rooms.Post("/join", h.JoinRoom)
			rooms.Post("/transcripts", h.IngestFragment)
		})

		api.Route("/meetings/{meeting_id}", func(meetings chi.Router) {
			meetings.Get("/status", h.MeetingStatus)
			meetings.Get("/transcript", h.Transcript)
			meetings.Post("/end", h.EndMeeting)
			meetings.Post("/processing", h.UpdateProcessing)
		})

		api.Post("/reconcile", h.Reconcile)
	})
	h.log.Info("routes registered")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	pkgjson.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room_name")

	var req JoinRoomRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		h.log.Warn("invalid join request", slog.String("error", err.Error()))
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Participant == "" {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("participant is required"))
		return
	}

	m, err := h.usecase.JoinRoom(r.Context(), &entity.JoinRoomRequest{
		RoomName:    roomName,
		Participant: req.Participant,
	})
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	h.log.Info("participant joined",
		slog.String("room", roomName),
		slog.String("meeting_id", m.ID),
		slog.String("participant", req.Participant))
	pkgjson.WriteJSON(w, http.StatusOK, map[string]string{"meeting_id": m.ID})
}

func (h *Handler) IngestFragment(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room_name")

	var req IngestFragmentRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		h.log.Warn("invalid fragment body", slog.String("error", err.Error()))
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	err := h.usecase.IngestFragment(r.Context(), roomName, entity.Fragment{
		Speaker:   req.Speaker,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	// Accepted covers the silent-discard case too: the channel is
	// best-effort and the sender is never told about malformed fragments.
	pkgjson.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) EndMeeting(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	m, err := h.usecase.EndMeeting(r.Context(), &entity.EndMeetingRequest{MeetingID: meetingID})
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	h.log.Info("meeting end requested",
		slog.String("meeting_id", meetingID),
		slog.String("status", string(m.CompositeStatus())))
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{
		"meeting_id": m.ID,
		"status":     m.CompositeStatus(),
		"ended_at":   m.EndedAt,
	})
}

func (h *Handler) MeetingStatus(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	status, err := h.usecase.MeetingStatus(r.Context(), meetingID)
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room_name")

	status, err := h.usecase.RoomStatus(r.Context(), roomName)
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) Transcript(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	blocks, err := h.usecase.TranscriptBlocks(r.Context(), meetingID)
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}
	pkgjson.WriteJSON(w, http.StatusOK, TranscriptResponse{
		MeetingID: meetingID,
		Blocks:    blocks,
	})
}

func (h *Handler) UpdateProcessing(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "meeting_id")

	var req UpdateProcessingRequest
	if err := pkgjson.ParseJSON(r, &req); err != nil {
		pkgjson.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	m, err := h.usecase.UpdateProcessing(r.Context(), &entity.UpdateProcessingRequest{
		MeetingID:       meetingID,
		Status:          entity.ProcessingStatus(req.Status),
		Summary:         req.Summary,
		ProcessingError: req.ProcessingError,
	})
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	h.log.Info("processing status updated",
		slog.String("meeting_id", meetingID),
		slog.String("status", req.Status))
	pkgjson.WriteJSON(w, http.StatusOK, map[string]any{
		"meeting_id": m.ID,
		"status":     m.ProcessingStatus,
	})
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.usecase.Reconcile(r.Context())
	if err != nil {
		h.writeUsecaseError(w, r, err)
		return
	}

	h.log.Info("manual reconciliation triggered",
		slog.Int("processed", result.Processed),
		slog.Int("completed", result.Completed),
		slog.Int("errors", result.Errors))
	pkgjson.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeUsecaseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrMeetingNotFound),
		errors.Is(err, storage.ErrNoActiveMeeting):
		pkgjson.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrRoomBusy),
		errors.Is(err, storage.ErrProcessingConflict):
		pkgjson.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrMeetingEnded),
		errors.Is(err, usecase.ErrInvalidProcessingTransition):
		pkgjson.WriteError(w, http.StatusUnprocessableEntity, err)
	default:
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		pkgjson.WriteError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}
