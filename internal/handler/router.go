package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/babelroom/backend/internal/config"
	relayHandler "github.com/babelroom/backend/internal/handler/relay"
	verifyHandler "github.com/babelroom/backend/internal/handler/verify"
	middlewarePkg "github.com/babelroom/backend/internal/middleware"
	verifyService "github.com/babelroom/backend/internal/verify"
	"github.com/babelroom/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(verifySvc *verifyService.Service, relay *relayHandler.Handler, verifyCfg config.VerifyConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(verifyCfg.AllowedOrigins, verifySvc))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		// The handshake and room-allocation endpoints share a coarse
		// throttle.
		api.Group(func(g chi.Router) {
			g.Use(middleware.Throttle(64))
			g.Use(middleware.Timeout(10 * time.Second))
			verifyHandler.New(verifySvc).RegisterRoutes(g)
			relay.RegisterRoomRoutes(g)
		})
	})

	relay.RegisterRoutes(r)

	return r
}
