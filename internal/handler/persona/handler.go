package persona

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/democonfig"
	"github.com/zhouzirui/z-tavern/salesbot/pkg/utils"
)

// Handler lets operators inspect and override per-session demo personas.
// A configuration already captured in a session's state takes precedence
// over the stored one, so overrides apply to sessions that have not yet
// entered the demo.
type Handler struct {
	configs *democonfig.Resolver
}

// New creates a persona handler.
func New(configs *democonfig.Resolver) *Handler {
	return &Handler{configs: configs}
}

// RegisterRoutes mounts the persona routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/personas/{sessionID}", func(p chi.Router) {
		p.Get("/", h.handleGetPersona)
		p.Put("/", h.handlePutPersona)
		p.Delete("/", h.handleDeletePersona)
	})
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Load(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load persona")
		return
	}
	if cfg == nil {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handlePutPersona(w http.ResponseWriter, r *http.Request) {
	var cfg persona.Config
	if err := utils.DecodeJSON(r, &cfg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if missing := cfg.MissingFields(); len(missing) > 0 {
		utils.RespondError(w, http.StatusBadRequest, "missing fields: "+strings.Join(missing, ", "))
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := h.configs.Save(r.Context(), sessionID, sessionID, cfg); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save persona")
		return
	}
	utils.RespondJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := h.configs.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete persona")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
