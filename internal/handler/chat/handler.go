package chat

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/store"
	"github.com/zhouzirui/z-tavern/salesbot/pkg/utils"
)

// Handler exposes the turn pipeline over HTTP.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a chat handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the chat and session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/stream/{sessionID}", h.handleStream)
	r.Get("/chat/ws/{sessionID}", newWebSocketHandler(h.chatSvc).ServeHTTP)

	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(s chi.Router) {
		s.Get("/", h.handleGetSession)
		s.Delete("/", h.handleResetSession)
		s.Get("/versions", h.handleListVersions)
		s.Get("/versions/{version}", h.handleGetVersion)
	})
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

// handleChat runs one turn and returns the reply.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.HandleTurn(r.Context(), payload.ThreadID, payload.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleStream runs one turn and delivers it as Server-Sent Events, so
// clients see a status event while the agent is working.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "processing"})

	reply, err := h.chatSvc.HandleTurn(r.Context(), sessionID, message)
	if err != nil {
		log.Printf("[stream] rejected turn for session=%s: %v", sessionID, err)
		utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
		return
	}
	utils.SendSSEEvent(w, flusher, "reply", reply)
	utils.SendSSEEvent(w, flusher, "done", map[string]string{"session_id": sessionID})
}

// handleCreateSession issues a fresh thread id.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"thread_id": h.chatSvc.CreateSession(r.Context()),
	})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.chatSvc.GetState(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	deleted, err := h.chatSvc.Reset(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"thread_id": sessionID,
		"deleted":   deleted,
	})
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || version <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}

	state, err := h.chatSvc.StateAt(r.Context(), chi.URLParam(r, "sessionID"), version)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionIDRequired), errors.Is(err, chatService.ErrMessageRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrVersionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
