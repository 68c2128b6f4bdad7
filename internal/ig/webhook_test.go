package ig

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/philiapseudo-collab/dumu-apparels/internal/metrics"
)

type recordingProcessor struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	done     chan struct{}
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{done: make(chan struct{}, 1)}
}

func (p *recordingProcessor) ProcessPayload(ctx context.Context, payload WebhookPayload) {
	p.mu.Lock()
	p.payloads = append(p.payloads, payload)
	p.mu.Unlock()
	p.done <- struct{}{}
}

func newTestHandler(processor WebhookProcessor) *WebhookHandler {
	return NewWebhookHandler(slog.Default(), metrics.Registry("dumu_ig_test"), "secret-token", processor)
}

func TestVerifyHandshake(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "12345" {
		t.Fatalf("body = %q, want challenge echo", body)
	}
}

func TestVerifyRejectsBadToken(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestVerifyMissingParams(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIngestAcksAndDispatches(t *testing.T) {
	processor := newRecordingProcessor()
	h := newTestHandler(processor)

	payload := `{"object":"instagram","entry":[{"id":"178","messaging":[{"sender":{"id":"900"},"message":{"mid":"m1","text":"hi"}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"status":"received"}` {
		t.Fatalf("body = %q", got)
	}

	select {
	case <-processor.done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor never invoked")
	}

	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(processor.payloads))
	}
	event := processor.payloads[0].Entry[0].Messaging[0]
	if event.Sender.ID != "900" || event.Message == nil || event.Message.Text != "hi" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	processor := newRecordingProcessor()
	h := newTestHandler(processor)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	processor.mu.Lock()
	defer processor.mu.Unlock()
	if len(processor.payloads) != 0 {
		t.Fatal("malformed payload must not dispatch")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
