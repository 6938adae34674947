// Package whatsapp — транспорт WhatsApp Cloud API: HTTP-сервер вебхука
// (handshake подписки, проверка HMAC-подписи, нормализация входящих в
// Envelope) и отправитель через Graph API. Сервер также отдаёт /health
// для внешних проверок живости.
package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/infra/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// ServerConfig — параметры вебхук-сервера.
type ServerConfig struct {
	Address     string
	VerifyToken string
	AppSecret   string
}

// Server принимает вебхуки WhatsApp и раздаёт /health.
type Server struct {
	srv     *http.Server
	cfg     ServerConfig
	handler envelope.Handler
}

// NewServer создаёт сервер. handler получает каждое нормализованное сообщение.
func NewServer(cfg ServerConfig, handler envelope.Handler) *Server {
	s := &Server{cfg: cfg, handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)

	s.srv = &http.Server{
		Addr:         cfg.Address,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start блокирует до остановки сервера.
func (s *Server) Start() error {
	logger.Infof("whatsapp: webhook server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("whatsapp: webhook server: %w", err)
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("whatsapp: shutting down webhook server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		logger.Debugf("whatsapp: health write: %v", err)
	}
}

// loggingMiddleware логирует все запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
