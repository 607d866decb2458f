package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/habitsync/cmd/desktop/handlers"
	"github.com/kimhsiao/habitsync/internal/app"
)

// NewRouter registers every API route on a chi router.
func NewRouter(a *app.App, hub *WSHub) http.Handler {
	users := handlers.UserResolver{Default: a.Config.UserID}

	health := handlers.NewHealthHandler(a.Monitor, func(r *http.Request) (int, error) {
		return a.Store.SchemaVersion(r.Context())
	})
	syncHandler := handlers.NewSyncHandler(a.Engine, a.Queue, a.Scheduler, a.Monitor, users)
	audio := handlers.NewAudioHandler(a.Recordings, users)
	habitHandler := handlers.NewHabitHandler(a.Habits, users)
	lockHandler := handlers.NewLockHandler(a.Locker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.Health)

		r.Get("/lock", lockHandler.Status)
		r.Post("/unlock", lockHandler.Unlock)
		r.Post("/lock", lockHandler.Lock)

		r.Group(func(r chi.Router) {
			r.Use(lockHandler.RequireUnlocked)
			r.Use(middleware.Timeout(2 * time.Minute))

			r.Get("/queue", syncHandler.GetQueue)
			r.Delete("/queue", syncHandler.ClearQueue)
			r.Post("/sync", syncHandler.Sync)
			r.Get("/sync/status", syncHandler.Status)
			r.Post("/connectivity", syncHandler.SetConnectivity)

			r.Post("/sessions", habitHandler.SaveSession)
			r.Get("/logs/{date}", habitHandler.DayLog)
			r.Delete("/logs/{date}/sessions/{timestamp}", habitHandler.DeleteSession)
			r.Get("/tags", habitHandler.ListTags)
			r.Post("/tags", habitHandler.CreateTag)
			r.Delete("/tags/{id}", habitHandler.DeleteTag)

			r.Get("/audio", audio.List)
			r.Post("/audio", audio.Upload)
			r.Get("/audio/{id}", audio.Get)
			r.Delete("/audio/{id}", audio.Delete)
		})
	})

	r.With(lockHandler.RequireUnlocked).Get("/ws", HandleWebSocket(hub))

	return r
}
