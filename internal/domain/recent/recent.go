// Package recent — кольцевые буферы действий по чатам. Два назначения
// с разными окнами жизни:
//   - Book — недавние действия ассистента (≤10 записей, ≤30 минут): окно,
//     в котором исправление пользователя ещё находит свою цель;
//   - DeletedBook — мягко удалённые записи (≤50, ≤30 дней): окно, в котором
//     действует «undo».
//
// Состояние каждого чата меняется строго последовательно: буферы защищены
// общим мьютексом книги, записи копируются на выходе. Память ограничена
// ёмкостью кольца и числом активных чатов.
package recent

import (
	"sync"
	"time"

	"second-brain/internal/domain/kb"
)

const (
	// ActionCapacity — ёмкость кольца недавних действий одного чата.
	ActionCapacity = 10
	// ActionTTL — окно, в котором действие доступно для исправления.
	ActionTTL = 30 * time.Minute

	// DeletedCapacity — ёмкость кольца удалённых записей одного чата.
	DeletedCapacity = 50
	// DeletedTTL — окно восстановления мягко удалённой записи.
	DeletedTTL = 30 * 24 * time.Hour
)

// Action — действие ассистента, на которое может сослаться исправление.
type Action struct {
	Type      kb.ActionType
	Entity    kb.EntityType
	EntityID  string
	Title     string
	ChatID    string
	MessageID string
	At        time.Time
}

// Book хранит кольца недавних действий по чатам.
type Book struct {
	mu    sync.Mutex
	rings map[string][]Action

	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewBook создаёт книгу с ёмкостью ActionCapacity и окном ActionTTL.
// nowFn подменяет источник времени в тестах; nil — time.Now.
func NewBook(nowFn func() time.Time) *Book {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Book{
		rings:    make(map[string][]Action),
		capacity: ActionCapacity,
		ttl:      ActionTTL,
		now:      nowFn,
	}
}

// Track добавляет действие в кольцо чата, вытесняя старые по ёмкости и возрасту.
func (b *Book) Track(a Action) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a.At.IsZero() {
		a.At = b.now()
	}

	ring := b.prune(a.ChatID)
	ring = append(ring, a)
	if len(ring) > b.capacity {
		ring = ring[len(ring)-b.capacity:]
	}
	b.rings[a.ChatID] = ring
}

// Last возвращает самое свежее ещё не истёкшее действие чата.
// Исправления всегда целятся в последнее действие (LIFO).
func (b *Book) Last(chatID string) (Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.prune(chatID)
	b.rings[chatID] = ring
	if len(ring) == 0 {
		return Action{}, false
	}
	return ring[len(ring)-1], true
}

// Drop удаляет действие с данным идентификатором сущности из кольца чата.
// Вызывается после undo: отменённое действие больше не цель исправлений.
func (b *Book) Drop(chatID, entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.prune(chatID)
	out := ring[:0]
	for _, a := range ring {
		if a.EntityID != entityID {
			out = append(out, a)
		}
	}
	b.rings[chatID] = out
}

// Rename обновляет заголовок действия после успешного исправления, чтобы
// следующее исправление видело актуальное название.
func (b *Book) Rename(chatID, entityID, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.rings[chatID]
	for i := range ring {
		if ring[i].EntityID == entityID {
			ring[i].Title = title
		}
	}
}

// List возвращает копию кольца чата от новых к старым.
func (b *Book) List(chatID string) []Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.prune(chatID)
	b.rings[chatID] = ring

	out := make([]Action, len(ring))
	for i, a := range ring {
		out[len(ring)-1-i] = a
	}
	return out
}

// prune отбрасывает истёкшие записи. Вызывается под мьютексом.
func (b *Book) prune(chatID string) []Action {
	ring := b.rings[chatID]
	cutoff := b.now().Add(-b.ttl)
	out := ring[:0]
	for _, a := range ring {
		if a.At.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// Deleted — мягко удалённая запись, ожидающая возможного восстановления.
type Deleted struct {
	Entity    kb.EntityType
	EntityID  string
	Title     string
	ChatID    string
	MessageID string
	DeletedAt time.Time
}

// Expired сообщает, вышло ли окно восстановления на момент now.
func (d Deleted) Expired(now time.Time) bool {
	return now.Sub(d.DeletedAt) > DeletedTTL
}

// DeletedBook хранит кольца удалённых записей по чатам.
type DeletedBook struct {
	mu    sync.Mutex
	rings map[string][]Deleted

	capacity int
	now      func() time.Time
}

// NewDeletedBook создаёт книгу удалённых с ёмкостью DeletedCapacity.
func NewDeletedBook(nowFn func() time.Time) *DeletedBook {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DeletedBook{
		rings:    make(map[string][]Deleted),
		capacity: DeletedCapacity,
		now:      nowFn,
	}
}

// Push добавляет удалённую запись в кольцо чата.
func (b *DeletedBook) Push(d Deleted) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.DeletedAt.IsZero() {
		d.DeletedAt = b.now()
	}

	ring := append(b.rings[d.ChatID], d)
	if len(ring) > b.capacity {
		ring = ring[len(ring)-b.capacity:]
	}
	b.rings[d.ChatID] = ring
}

// PopLast снимает самую свежую запись с неистёкшим окном восстановления.
// Второе значение — причина отказа: NotTracked (нечего восстанавливать)
// или AllExpired (всё старше окна).
func (b *DeletedBook) PopLast(chatID string) (Deleted, PopOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.rings[chatID]
	if len(ring) == 0 {
		return Deleted{}, PopNotTracked
	}

	now := b.now()
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].Expired(now) {
			continue
		}
		d := ring[i]
		b.rings[chatID] = append(ring[:i], ring[i+1:]...)
		return d, PopOK
	}
	return Deleted{}, PopAllExpired
}

// Pending возвращает неистёкшие записи чата от новых к старым.
// Истёкшие скрываются, но остаются в кольце: восстановление по id
// работает и для них.
func (b *DeletedBook) Pending(chatID string) []Deleted {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.rings[chatID]
	now := b.now()
	var out []Deleted
	for i := len(ring) - 1; i >= 0; i-- {
		if !ring[i].Expired(now) {
			out = append(out, ring[i])
		}
	}
	return out
}

// Remove удаляет запись с данным идентификатором из кольца чата.
func (b *DeletedBook) Remove(chatID, entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ring := b.rings[chatID]
	out := ring[:0]
	for _, d := range ring {
		if d.EntityID != entityID {
			out = append(out, d)
		}
	}
	b.rings[chatID] = out
}

// PopOutcome — результат PopLast.
type PopOutcome int

const (
	PopOK         PopOutcome = iota // запись снята и готова к восстановлению
	PopNotTracked                   // в кольце чата пусто
	PopAllExpired                   // записи есть, но все старше окна
)
