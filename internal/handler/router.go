package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/salesbot/internal/config"
	"github.com/zhouzirui/z-tavern/salesbot/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/z-tavern/salesbot/internal/middleware"
	chatService "github.com/zhouzirui/z-tavern/salesbot/internal/service/chat"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/democonfig"
	"github.com/zhouzirui/z-tavern/salesbot/pkg/utils"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires HTTP routes to core services. metrics may be nil.
func NewRouter(cfg *config.Config, chatSvc *chatService.Service, configs *democonfig.Resolver, db Pinger, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			utils.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if metrics != nil && cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics)
	}

	r.Route("/api", func(api chi.Router) {
		chat.New(chatSvc).RegisterRoutes(api)
		persona.New(configs).RegisterRoutes(api)
	})

	return r
}
