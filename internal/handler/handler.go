package handler

import (
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"smartcompress/internal/config"
	"smartcompress/internal/metrics"
	"smartcompress/internal/middleware"
	"smartcompress/internal/pipeline"
	"smartcompress/internal/requestip"
)

type Handler struct {
	templates *template.Template
	embedFS   fs.FS
	tmplMu    sync.RWMutex
	config    *config.Config
	metrics   *metrics.Logger
	log       *logrus.Logger
	limiter   *middleware.RateLimiter
	csrf      *middleware.CSRF
	// jobs bounds concurrent transforms; each one holds a full decoded bitmap.
	jobs *semaphore.Weighted
}

// New builds a Handler. Nil metrics or logger fall back to fresh/standard
// instances; a nil config uses the built-in defaults. resolver decides which
// peers may forward the client address; nil trusts no proxy.
func New(embedFS fs.FS, cfg *config.Config, m *metrics.Logger, log *logrus.Logger, resolver *requestip.Resolver) *Handler {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if m == nil {
		m = metrics.New()
	}

	jobs := cfg.MaxConcurrentJobs
	if jobs <= 0 {
		jobs = 1
	}

	h := &Handler{
		embedFS: embedFS,
		config:  cfg,
		metrics: m,
		log:     log,
		csrf:    middleware.NewCSRF(cfg.CSRFSecret).ForceSecure(cfg.ForceHTTPS),
		jobs:    semaphore.NewWeighted(int64(jobs)),
	}
	h.templates = h.parseTemplates()

	if cfg.RateLimitCompress > 0 {
		h.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitCompress,
			LockoutDuration:   5 * time.Minute,
			TrustedProxyCIDRs: resolver.Prefixes(),
			TemplateRenderer:  h,
			OnLimited: func(string) {
				m.LogEvent(metrics.EventRateLimited)
			},
		})
	}
	return h
}

// parseTemplates collects all embedded .html files by walking the FS so New
// works whether templates live under "templates/" or at the root.
func (h *Handler) parseTemplates() *template.Template {
	var files []string
	if h.embedFS != nil {
		_ = fs.WalkDir(h.embedFS, ".", func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !d.IsDir() && strings.HasSuffix(path, ".html") {
				files = append(files, path)
			}
			return nil
		})
	}

	if len(files) == 0 {
		h.log.Warn("no embedded templates found")
		return template.New("base")
	}
	if h.config.Debug {
		h.log.WithField("files", files).Info("template files to parse")
	}

	tmpl, err := template.New("base").Funcs(templateFuncs).ParseFS(h.embedFS, files...)
	if err != nil {
		h.log.WithError(err).Error("template parse error")
		// fall back to an empty set so handlers answer with 500s instead of panicking
		return template.New("base")
	}

	if h.config.Debug {
		var names []string
		for _, t := range tmpl.Templates() {
			if t.Name() != "" {
				names = append(names, t.Name())
			}
		}
		h.log.WithField("templates", names).Info("loaded templates")
	}
	return tmpl
}

var templateFuncs = template.FuncMap{
	"kb": func(n int64) string { return formatKB(n) },
	"abs": func(f float64) float64 {
		if f < 0 {
			return -f
		}
		return f
	},
}

// RenderTemplate renders a template with data
func (h *Handler) RenderTemplate(w http.ResponseWriter, name string, data interface{}) error {
	h.tmplMu.RLock()
	defer h.tmplMu.RUnlock()

	return h.templates.ExecuteTemplate(w, name, data)
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// defaultParams returns the configured form defaults, pulled into UI range.
func (h *Handler) defaultParams() pipeline.Params {
	p := pipeline.DefaultParams()
	if h.config.DefaultQuality > 0 {
		p.Quality = h.config.DefaultQuality
	}
	if h.config.DefaultMaxWidth > 0 {
		p.MaxWidth = h.config.DefaultMaxWidth
	}
	if h.config.DefaultMaxHeight > 0 {
		p.MaxHeight = h.config.DefaultMaxHeight
	}
	p.AutoOrient = h.config.AutoOrient
	return p.Clamp()
}

func (h *Handler) maxUploadBytes() int64 {
	if h.config.MaxUploadBytes > 0 {
		return h.config.MaxUploadBytes
	}
	return 25 << 20
}
