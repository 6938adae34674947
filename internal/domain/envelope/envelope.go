// Package envelope — транспортно-нейтральное представление входящих и исходящих
// сообщений. Адаптеры (Telegram, WhatsApp) сводят свои события к Envelope и
// отдают его обработчику; обратный путь — интерфейс Sender. Ядро не знает,
// какой транспорт стоит за конвертом.
package envelope

import (
	"context"
	"fmt"
	"time"

	"second-brain/internal/domain/kb"
)

// Transport — канал, из которого пришло сообщение.
type Transport string

const (
	TransportTelegram Transport = "telegram"
	TransportWhatsApp Transport = "whatsapp"
)

// Envelope — нормализованное входящее сообщение. Text для голосовых сообщений
// уже содержит транскрипцию; Voice сохраняет модальность для классификации
// источника.
type Envelope struct {
	Transport  Transport
	ChatID     string
	MessageID  string
	Sender     string
	Text       string
	Voice      bool
	ReceivedAt time.Time
}

// IdempotencyKey — стабильный ключ логического действия:
// "<transport>:<chat>:<msg>". Повторная доставка того же сообщения
// транспортом даёт тот же ключ.
func (e Envelope) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s", e.Transport, e.ChatID, e.MessageID)
}

// Source переводит транспорт и модальность в источник записи базы знаний.
func (e Envelope) Source() kb.Source {
	switch e.Transport {
	case TransportWhatsApp:
		if e.Voice {
			return kb.SourceWhatsAppVoice
		}
		return kb.SourceWhatsAppText
	case TransportTelegram:
		if e.Voice {
			return kb.SourceTelegramVoice
		}
		return kb.SourceTelegramText
	default:
		return kb.SourceTelegramText
	}
}

// Handler принимает нормализованное сообщение. Реализация обязана быть
// идемпотентной по IdempotencyKey: транспорты могут доставлять повторно.
type Handler interface {
	Handle(ctx context.Context, env Envelope)
}

// HandlerFunc — адаптер функции к Handler.
type HandlerFunc func(ctx context.Context, env Envelope)

// Handle вызывает f(ctx, env).
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) {
	f(ctx, env)
}

// Sender — исходящий канал конкретного транспорта.
type Sender interface {
	Send(ctx context.Context, chatID string, text string) error
}

// SenderFunc — адаптер функции к Sender.
type SenderFunc func(ctx context.Context, chatID string, text string) error

// Send вызывает f(ctx, chatID, text).
func (f SenderFunc) Send(ctx context.Context, chatID string, text string) error {
	return f(ctx, chatID, text)
}
