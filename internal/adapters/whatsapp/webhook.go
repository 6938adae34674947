package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/logger"
)

// maxWebhookBody — потолок тела вебхука.
const maxWebhookBody = 1 << 20

// webhookPayload — релевантная часть полезной нагрузки Cloud API.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio struct {
						ID string `json:"id"`
					} `json:"audio"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// handleWebhook обслуживает оба режима вебхука: GET — handshake подписки
// (echo hub.challenge при совпавшем verify-token), POST — доставка событий
// с проверкой подписи тела.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleHandshake(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.cfg.VerifyToken {
		logger.Warn("whatsapp: webhook handshake rejected")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	if _, err := w.Write([]byte(q.Get("hub.challenge"))); err != nil {
		logger.Debugf("whatsapp: handshake write: %v", err)
	}
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		logger.Warn("whatsapp: webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warnf("whatsapp: webhook decode: %v", err)
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	// Подтверждаем доставку сразу: обработка идёт асинхронно, Cloud API
	// повторяет неподтверждённые события. Контекст отвязан от запроса,
	// иначе обработка оборвётся вместе с ответом.
	w.WriteHeader(http.StatusOK)

	ctx := context.WithoutCancel(r.Context())
	for _, env := range s.envelopes(payload) {
		go s.handler.Handle(ctx, env)
	}
}

// verifySignature сверяет HMAC-SHA256 подписи тела с X-Hub-Signature-256
// за константное время.
func (s *Server) verifySignature(header string, body []byte) bool {
	if s.cfg.AppSecret == "" {
		// Без секрета подпись не проверяется (локальная отладка).
		return true
	}
	signature, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// envelopes разворачивает полезную нагрузку в нормализованные сообщения.
func (s *Server) envelopes(payload webhookPayload) []envelope.Envelope {
	var out []envelope.Envelope
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				env := envelope.Envelope{
					Transport:  envelope.TransportWhatsApp,
					ChatID:     msg.From,
					MessageID:  msg.ID,
					Sender:     msg.From,
					Text:       msg.Text.Body,
					Voice:      msg.Type == "audio" || msg.Type == "voice",
					ReceivedAt: parseUnix(msg.Timestamp),
				}
				out = append(out, env)
			}
		}
	}
	return out
}

func parseUnix(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
