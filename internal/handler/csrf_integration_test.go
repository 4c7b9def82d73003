package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smartcompress/internal/config"
	"smartcompress/internal/testutil"
)

func TestCompressForm_CSRFRequired(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitCompress = 0
	cfg.CSRFSecret = "test-secret"
	s := newTestServer(t, cfg)
	data := testutil.EncodePNG(t, testutil.GradientImage(20, 20))

	// POST without CSRF token should be forbidden
	rec := s.do(uploadRequest(t, "/compress", &testutil.Upload{Filename: "a.png", Data: data}, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	// GET to receive CSRF cookie, token is also embedded in the form
	getRec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for upload page, got %d", getRec.Code)
	}
	var csrfCookie *http.Cookie
	for _, c := range getRec.Result().Cookies() {
		if c.Name == "csrf_token" {
			csrfCookie = c
		}
	}
	if csrfCookie == nil {
		t.Fatal("expected csrf cookie")
	}
	if !strings.Contains(getRec.Body.String(), `name="csrf_token" value="`+csrfCookie.Value+`"`) {
		t.Fatalf("expected token in form, got: %s", getRec.Body.String())
	}

	// token submitted as a form field, the way the browser form posts it
	req := uploadRequest(t, "/compress", &testutil.Upload{Filename: "a.png", Data: data},
		map[string]string{"csrf_token": csrfCookie.Value})
	req.AddCookie(csrfCookie)
	rec = s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with form token, got %d: %s", rec.Code, rec.Body.String())
	}

	// mismatched header token
	req = uploadRequest(t, "/compress", &testutil.Upload{Filename: "a.png", Data: data}, nil)
	req.AddCookie(csrfCookie)
	req.Header.Set("X-CSRF-Token", "bogus")
	rec = s.do(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %d", rec.Code)
	}
}

func TestCompressForm_OversizedBodyIs413(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimitCompress = 0
	cfg.MaxUploadBytes = 1024
	s := newTestServer(t, cfg)
	cookie := s.csrfCookie(t)

	req := uploadRequest(t, "/compress", &testutil.Upload{Filename: "big.png", Data: make([]byte, 2<<20)},
		map[string]string{"csrf_token": cookie.Value})
	req.AddCookie(cookie)
	rec := s.do(req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestAPICompress_NoCSRF(t *testing.T) {
	s := newTestServer(t, nil)
	data := testutil.EncodePNG(t, testutil.GradientImage(20, 20))

	rec := s.do(uploadRequest(t, "/api/compress", &testutil.Upload{Filename: "a.png", Data: data}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected API route to skip CSRF, got %d", rec.Code)
	}
}
