package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/shared/fault"
)

const testPayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"messages": [
					{"id": "wamid.1", "from": "15551234567", "timestamp": "1772000000", "type": "text", "text": {"body": "buy milk"}},
					{"id": "wamid.2", "from": "15551234567", "timestamp": "1772000001", "type": "audio", "audio": {"id": "media-9"}}
				]
			}
		}]
	}]
}`

// chanHandler передаёт конверты в канал: доставка обрабатывается в горутинах.
type chanHandler chan envelope.Envelope

func (h chanHandler) Handle(_ context.Context, env envelope.Envelope) { h <- env }

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	srv := NewServer(ServerConfig{VerifyToken: "tok"}, chanHandler(nil))

	cases := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"accepted", "hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrongToken", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrongMode", "hub.mode=unsubscribe&hub.verify_token=tok", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			srv.handleWebhook(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tc.query, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d", rec.Code)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestDeliveryNormalizesMessages(t *testing.T) {
	t.Parallel()

	got := make(chanHandler, 2)
	srv := NewServer(ServerConfig{VerifyToken: "tok", AppSecret: "s3cret"}, got)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(testPayload))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", []byte(testPayload)))
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	byID := map[string]envelope.Envelope{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-got:
			byID[env.MessageID] = env
		case <-time.After(2 * time.Second):
			t.Fatal("конверт не доставлен")
		}
	}

	text := byID["wamid.1"]
	if text.Transport != envelope.TransportWhatsApp || text.ChatID != "15551234567" {
		t.Fatalf("env = %+v", text)
	}
	if text.Text != "buy milk" || text.Voice {
		t.Fatalf("env = %+v", text)
	}
	if !text.ReceivedAt.Equal(time.Unix(1772000000, 0)) {
		t.Fatalf("ReceivedAt = %v", text.ReceivedAt)
	}
	if voice := byID["wamid.2"]; !voice.Voice {
		t.Fatalf("env = %+v", voice)
	}
}

func TestDeliveryRejectsBadSignature(t *testing.T) {
	t.Parallel()

	got := make(chanHandler, 1)
	srv := NewServer(ServerConfig{AppSecret: "s3cret"}, got)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(testPayload))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case env := <-got:
		t.Fatalf("конверт прошёл с неверной подписью: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

// Без секрета подпись не проверяется: локальная отладка.
func TestDeliveryWithoutSecret(t *testing.T) {
	t.Parallel()

	got := make(chanHandler, 2)
	srv := NewServer(ServerConfig{}, got)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(testPayload))
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("конверт не доставлен")
	}
}

func TestSenderPostsMessage(t *testing.T) {
	t.Parallel()

	type sent struct {
		path string
		auth string
		body map[string]any
	}
	got := make(chan sent, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		got <- sent{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	sender := NewSender("555000", "token-abc", WithGraphBaseURL(ts.URL))
	if err := sender.Send(context.Background(), "15551234567", "Got it."); err != nil {
		t.Fatalf("Send: %v", err)
	}

	req := <-got
	if req.path != "/v19.0/555000/messages" {
		t.Fatalf("path = %q", req.path)
	}
	if req.auth != "Bearer token-abc" {
		t.Fatalf("auth = %q", req.auth)
	}
	if req.body["to"] != "15551234567" || req.body["messaging_product"] != "whatsapp" {
		t.Fatalf("body = %v", req.body)
	}
	text, _ := req.body["text"].(map[string]any)
	if text["body"] != "Got it." {
		t.Fatalf("body = %v", req.body)
	}
}

// Постоянный отказ Graph API не ретраится.
func TestSenderPermanentFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error": "bad request"}`, http.StatusBadRequest)
	}))
	t.Cleanup(ts.Close)

	sender := NewSender("555000", "token-abc", WithGraphBaseURL(ts.URL))
	err := sender.Send(context.Background(), "15551234567", "hi")
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if !fault.IsPermanent(err) {
		t.Fatalf("kind = %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("запросов = %d", got)
	}
}
