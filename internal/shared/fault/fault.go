// Package fault — типизированная классификация ошибок внешних интеграций.
// Каждая ошибка несёт Kind, по которому оркестраторы выбирают стратегию:
// ретрай, офлайн-очередь, уточняющий вопрос пользователю или аварийный лог.
// Обёртки построены на go-faster/errors, поэтому цепочки Unwrap сохраняются.
package fault

import (
	"context"
	"net"
	"net/http"

	"github.com/go-faster/errors"
)

// Kind — категория ошибки. Определяет политику восстановления, а не место возникновения.
type Kind int

const (
	// KindUnknown — неклассифицированная ошибка; трактуется как внутренняя.
	KindUnknown Kind = iota
	// KindTransient — временный сбой (таймаут, 5xx, обрыв сети); допускает ретраи.
	KindTransient
	// KindPermanent — постоянный отказ (4xx кроме 404, неверный payload); ретраи бессмысленны.
	KindPermanent
	// KindNotFound — ресурс отсутствует (404); для удалений считается успехом.
	KindNotFound
	// KindValidation — некорректный пользовательский ввод; требует уточнения, не ретрая.
	KindValidation
	// KindInvariant — нарушение внутреннего инварианта; логируется с полным контекстом.
	KindInvariant
	// KindConfig — ошибка конфигурации; всплывает только на старте и в check.
	KindConfig
)

// String возвращает имя категории для логов.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindInvariant:
		return "invariant"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error — ошибка с категорией. Оборачивает первопричину, если она есть.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// Error реализует error.
func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Unwrap раскрывает первопричину для errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// Kind возвращает категорию ошибки.
func (e *Error) Kind() Kind { return e.kind }

// New создаёт ошибку заданной категории без первопричины.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// Newf создаёт ошибку заданной категории с форматированием.
func Newf(kind Kind, format string, a ...any) error {
	return &Error{kind: kind, msg: errors.Errorf(format, a...).Error()}
}

// Wrap оборачивает err с категорией и пояснением. Nil остаётся nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf извлекает категорию из цепочки ошибок. Контекстные отмены считаются
// transient: прерванный вызов безопасно повторить после рестарта.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient сообщает, имеет ли смысл повторять операцию.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsNotFound сообщает, что ресурс отсутствует.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsPermanent сообщает о постоянном отказе внешнего сервиса.
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

// IsValidation сообщает, что виноват пользовательский ввод.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// FromStatus классифицирует HTTP-статус внешнего API.
// 408/429/5xx — transient, 404 — not found, прочие 4xx — permanent.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 400:
		return KindPermanent
	default:
		return KindUnknown
	}
}

// FromStatusErr строит типизированную ошибку по HTTP-статусу и телу ответа.
func FromStatusErr(status int, body string) error {
	kind := FromStatus(status)
	if body == "" {
		return Newf(kind, "http status %d", status)
	}
	return Newf(kind, "http status %d: %s", status, body)
}
