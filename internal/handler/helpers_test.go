package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"smartcompress/internal/config"
	"smartcompress/internal/handler"
	"smartcompress/internal/metrics"
	"smartcompress/internal/middleware"
	"smartcompress/internal/requestip"
	"smartcompress/internal/testutil"
	"smartcompress/web"
)

type testServer struct {
	h       *handler.Handler
	router  chi.Router
	metrics *metrics.Logger
	hook    *test.Hook
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = config.Defaults()
		cfg.RateLimitCompress = 0
	}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	resolver, err := requestip.NewResolver(cfg.TrustedProxyCIDRs)
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	m := metrics.New()
	h := handler.New(web.EmbedFS, cfg, m, log, resolver)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(log, resolver))
	h.RegisterRoutes(r)
	return &testServer{h: h, router: r, metrics: m, hook: hook}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path string, file *testutil.Upload, fields map[string]string) *http.Request {
	t.Helper()
	body, contentType := testutil.MultipartBody(t, file, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

// csrfCookie fetches the upload page and returns the issued token cookie.
func (s *testServer) csrfCookie(t *testing.T) *http.Cookie {
	t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf_token" {
			return c
		}
	}
	t.Fatal("expected csrf cookie")
	return nil
}
