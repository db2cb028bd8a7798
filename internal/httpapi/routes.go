package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/internal/ws"
)

type Deps struct {
	State    StateSource
	Attacher ws.Attacher
	Logger   *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(d.State))
	r.Get("/scoreboard", Scoreboard(d.State))
	if d.Attacher != nil {
		r.Get("/ws", ws.Handler(d.Attacher, d.Logger))
	}
	return r
}
