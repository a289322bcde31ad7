package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/hub"
	"github.com/cardfield/cardfield/internal/store"
	"github.com/cardfield/cardfield/internal/ws"
)

func SetupRoutes(h *hub.Hub, st store.Store, log *zap.Logger, originPatterns []string) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", CreateRoom(h, st, log))
	r.Post("/rooms/{code}/join", JoinRoom(h, st, log))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(h, log, originPatterns))
	return r
}
