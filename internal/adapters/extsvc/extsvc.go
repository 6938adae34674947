// Package extsvc объявляет интерфейсы внешних продуктивных сервисов:
// распознавание речи, календарь, карты, документы, веб-исследования, почта
// и языковая модель. Реализации живут у вызывающей стороны (HTTP-клиенты
// по ключам из конфигурации); для невключённых сервисов используются
// no-op-заглушки из этого же пакета.
package extsvc

import (
	"context"
	"time"

	"second-brain/internal/domain/resolve"
)

// Transcriber переводит голосовое сообщение в текст.
type Transcriber interface {
	// Transcribe принимает сырые байты аудио и его MIME-тип.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Event — событие календаря. Времена несут зону пользователя.
type Event struct {
	ID       string
	Title    string
	Start    time.Time
	End      time.Time
	ZoneName string
	TaskID   string
}

// Calendar создаёт события по задачам со сроком.
type Calendar interface {
	CreateEvent(ctx context.Context, event Event) (Event, error)
}

// TravelEstimate — оценка времени в пути до точки.
type TravelEstimate struct {
	Duration time.Duration
	Distance float64 // км
	Mode     string  // driving | walking | transit
}

// Maps — клиент карт: геокодирование и оценка времени в пути.
// Встраивает resolve.Geocoder, которым пользуется обогащение мест.
type Maps interface {
	resolve.Geocoder
	TravelTime(ctx context.Context, from, to resolve.Geocoded) (TravelEstimate, error)
}

// Document — внешний документ (заметки исследования и пр.).
type Document struct {
	ID    string
	Title string
	URL   string
}

// Docs создаёт документы во внешнем хранилище.
type Docs interface {
	CreateDocument(ctx context.Context, title, body string) (Document, error)
}

// Finding — один результат веб-исследования.
type Finding struct {
	Summary string
	Sources []string
}

// Researcher выполняет веб-исследование по запросу. Чёрный ящик:
// внутренности (поиск, модель, агрегация) не специфицированы.
type Researcher interface {
	Research(ctx context.Context, query string) (Finding, error)
}

// Message — письмо из почтового ящика.
type Message struct {
	ID      string
	From    string
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

// Mailbox читает отправленную почту для анализа стиля ответов.
type Mailbox interface {
	// SentSince возвращает отправленные письма начиная с момента since.
	SentSince(ctx context.Context, since time.Time, limit int) ([]Message, error)
}

// LLM — языковая модель как чёрный ящик: подсказка → ответ.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
