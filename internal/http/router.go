package httpapi

import (
	stdhttp "net/http"

	"sceneforge/internal/http/handlers"
	"sceneforge/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App, lookup middleware.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.WithClientID,
		middleware.I18N("en", lookup),
		middleware.Logger(app.Logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Post("/generate", app.Generate)
		r.Get("/status", app.Status)
		r.Post("/refine", app.Refine)
		r.Post("/skybox", app.Skybox)
		r.Get("/proxy", app.Proxy)
		r.Route("/scenes", func(r chi.Router) {
			r.Put("/{key}", app.SceneSave)
			r.Get("/{key}", app.SceneGet)
		})
	})

	return r
}
