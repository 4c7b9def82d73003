package handler_test

import (
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"smartcompress/internal/config"
	"smartcompress/internal/handler"
	"smartcompress/internal/testutil"
	"smartcompress/web"
)

func hasMessage(hook *test.Hook, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func TestHandlerTemplateLogging_DebugFlag(t *testing.T) {
	log, hook := test.NewNullLogger()

	handler.New(web.EmbedFS, &config.Config{Debug: false}, nil, log, nil).Close()
	if hasMessage(hook, "template files to parse") || hasMessage(hook, "loaded templates") {
		t.Fatalf("expected no verbose template logs when debug disabled, got: %v", hook.AllEntries())
	}

	hook.Reset()
	handler.New(web.EmbedFS, &config.Config{Debug: true}, nil, log, nil).Close()
	if !hasMessage(hook, "loaded templates") {
		t.Fatalf("expected verbose template logs when debug enabled, got: %v", hook.AllEntries())
	}
}

func TestAPICompress_EncodedSizeLoggedOnRequestEntry(t *testing.T) {
	s := newTestServer(t, nil)
	data := testutil.EncodePNG(t, testutil.GradientImage(40, 30))

	req := uploadRequest(t, "/api/compress", &testutil.Upload{Filename: "a.png", Data: data}, map[string]string{"quality": "70"})
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var encoded *logrus.Entry
	for _, e := range s.hook.AllEntries() {
		if e.Message == "jpeg encoded" {
			encoded = e
		}
	}
	if encoded == nil {
		t.Fatalf("expected a jpeg encoded entry, got: %v", s.hook.AllEntries())
	}
	if encoded.Level != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", encoded.Level)
	}
	if encoded.Data["size"] != int64(rec.Body.Len()) {
		t.Fatalf("expected size %d, got %v", rec.Body.Len(), encoded.Data["size"])
	}
	if encoded.Data["quality"] != 70 {
		t.Fatalf("expected quality 70, got %v", encoded.Data["quality"])
	}
	// carried by the request-scoped entry, not the standard logger
	if encoded.Data["path"] != "/api/compress" {
		t.Fatalf("expected request fields on entry, got %v", encoded.Data)
	}
}
