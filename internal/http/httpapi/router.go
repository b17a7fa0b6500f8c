package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nero/internal/http/handlers"
	"nero/internal/middleware"
)

type Options struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	UploadsDir      string
	UploadsPrefix   string
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID(opts.Logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.AccessLog,
		middleware.CORS(opts.AllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Provider callbacks authenticate with a body signature, not a user token.
	r.With(middleware.RateLimit(opts.RateLimitPerMin*10, time.Minute)).
		Post("/v1/webhooks/generation", app.GenerationWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Route("/v1/tasks", func(r chi.Router) {
			r.Post("/", app.SubmitTask)
			r.Get("/", app.ListTasks)
			r.Get("/{task_id}", app.TaskStatus)
		})
		r.Get("/v1/images", app.ListImages)
		r.Get("/v1/balance", app.Balance)
	})

	if opts.UploadsDir != "" {
		prefix := opts.UploadsPrefix
		if prefix == "" {
			prefix = "/uploads"
		}
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(opts.UploadsDir)))
		r.Handle(prefix+"/*", files)
	}

	return r
}
