package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/infra/throttle"
	"second-brain/internal/shared/fault"
)

const (
	graphBaseURL = "https://graph.facebook.com"
	graphVersion = "v19.0"

	senderRPS     = 10
	sendTimeout   = 30 * time.Second
	maxSendAnswer = 1 << 20
)

// Sender шлёт текстовые сообщения через Graph API. Реализует envelope.Sender.
type Sender struct {
	http        *http.Client
	baseURL     string
	phoneID     string
	accessToken string
	throttler   *throttle.Throttler
}

// SenderOption настраивает отправителя при создании.
type SenderOption func(*Sender)

// WithGraphBaseURL переопределяет адрес Graph API (тесты на httptest).
func WithGraphBaseURL(url string) SenderOption {
	return func(s *Sender) { s.baseURL = url }
}

// NewSender создаёт отправителя для номера phoneID.
func NewSender(phoneID, accessToken string, opts ...SenderOption) *Sender {
	s := &Sender{
		http:        &http.Client{Timeout: sendTimeout},
		baseURL:     graphBaseURL,
		phoneID:     phoneID,
		accessToken: accessToken,
		throttler:   throttle.New(senderRPS, throttle.WithMaxRetries(3)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send отправляет текст в чат chatID (номер получателя).
func (s *Sender) Send(ctx context.Context, chatID string, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "whatsapp: marshal message")
	}

	url := s.baseURL + "/" + graphVersion + "/" + s.phoneID + "/messages"
	return s.throttler.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fault.Wrap(err, fault.KindPermanent, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fault.Wrap(err, fault.KindTransient, "graph call")
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			answer, _ := io.ReadAll(io.LimitReader(resp.Body, maxSendAnswer))
			return fault.FromStatusErr(resp.StatusCode, string(answer))
		}
		return nil
	})
}
