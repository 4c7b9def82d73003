package handler

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smartcompress/internal/middleware"
)

// multipart framing and the form fields around the image part
const formOverhead = 1 << 20

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheck)
	r.Get("/stats", h.Stats)

	// Static files (serve from embedded static/ subdirectory)
	if sub, err := fs.Sub(h.embedFS, "static"); err == nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
	} else if h.embedFS != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.embedFS))))
	}

	limitBody := middleware.LimitBody(h.maxUploadBytes() + formOverhead)

	// the body limit has to wrap CSRF, which parses the form for its token
	csrf := h.csrf.Middleware()
	r.With(csrf).Get("/", h.Index)
	r.With(limitBody, h.rateLimit, csrf).Post("/compress", h.CompressPage)

	r.Route("/api", func(r chi.Router) {
		r.Use(limitBody, h.rateLimit)
		r.Post("/compress", h.APICompress)
	})
}

// rateLimit applies the compress limiter when one is configured.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware()(next)
}
