// Package audit — журнал аудита и идемпотентный индекс. Каждое действие,
// меняющее состояние, фиксируется записью журнала с идемпотентным ключом;
// повторная попытка с тем же ключом поглощается и оставляет в журнале только
// маркер дедупликации. Проверка идёт в два уровня: горячий кэш в памяти
// (окно cacheTTL), затем CheckDedupe шлюза базы знаний. Кэш принадлежит
// исключительно этому пакету.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/timeutil"
	"second-brain/internal/shared"
)

const (
	// cacheTTL — срок жизни ключа в горячем кэше. Повторная доставка
	// транспортом приходит в течение минут, не суток.
	cacheTTL = 24 * time.Hour

	// undoWindow — окно, в течение которого созданная запись отображается
	// пользователю как отменяемая.
	undoWindow = 5 * time.Minute

	// dedupePrefix — префикс ключа у маркеров дедупликации.
	dedupePrefix = "dedupe:"
)

// TransportKey строит идемпотентный ключ входящего сообщения:
// "<source>:<chat>:<msg>".
func TransportKey(source, chatID, msgID string) string {
	return fmt.Sprintf("%s:%s:%s", source, chatID, msgID)
}

// CalendarKey строит ключ события календаря: "calendar:<task>:<yyyy-mm-dd>".
// Одна задача различима в пределах одного события в день.
func CalendarKey(taskID string, day time.Time) string {
	return fmt.Sprintf("calendar:%s:%s", taskID, timeutil.FormatDay(day))
}

// BriefingKey строит ключ утренней сводки: "briefing:<yyyy-mm-dd>:<chat>".
func BriefingKey(day time.Time, chatID string) string {
	return fmt.Sprintf("briefing:%s:%s", timeutil.FormatDay(day), chatID)
}

// Verdict — итог проверки идемпотентности.
type Verdict int

const (
	// VerdictNew — ключ не встречался, действие можно выполнять.
	VerdictNew Verdict = iota
	// VerdictDuplicate — действие с этим ключом уже выполнено.
	VerdictDuplicate
)

// Logger пишет журнал аудита через шлюз базы знаний и держит горячий кэш ключей.
type Logger struct {
	gw  kb.Gateway
	now func() time.Time

	mu   sync.RWMutex
	seen map[string]seenEntry
}

type seenEntry struct {
	logID    string
	expireAt time.Time
}

// New создаёт журнал аудита. nowFn подменяет источник времени в тестах.
func New(gw kb.Gateway, nowFn func() time.Time) *Logger {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Logger{
		gw:   gw,
		now:  nowFn,
		seen: make(map[string]seenEntry),
	}
}

// Check ищет ключ в кэше, затем в журнале. Возвращает вердикт и идентификатор
// исходной записи для дубликата. Ошибка шлюза поднимается как есть: решение
// (ретрай, офлайн-очередь) принимает вызывающий.
func (l *Logger) Check(ctx context.Context, key string) (Verdict, string, error) {
	now := l.now()

	l.mu.RLock()
	entry, ok := l.seen[key]
	l.mu.RUnlock()
	if ok && now.Before(entry.expireAt) {
		return VerdictDuplicate, entry.logID, nil
	}

	id, found, err := l.gw.CheckDedupe(ctx, key)
	if err != nil {
		return VerdictNew, "", errors.Wrap(err, "audit: check dedupe")
	}
	if found {
		l.remember(key, id)
		return VerdictDuplicate, id, nil
	}
	return VerdictNew, "", nil
}

// Entry — параметры записи журнала. Нулевые поля не пишутся.
type Entry struct {
	ActionType     kb.ActionType
	Key            string
	InputText      string
	Interpretation string
	ActionTaken    string
	Confidence     int

	Entities           []string
	ExternalAPI        string
	ExternalResourceID string

	ErrorCode    string
	ErrorMessage string
	RetryCount   int

	Correction string

	// WithUndoWindow включает в запись срок, до которого доступна отмена.
	WithUndoWindow bool
}

// Log пишет запись журнала и регистрирует ключ в кэше.
func (l *Logger) Log(ctx context.Context, e Entry) (kb.LogEntry, error) {
	now := l.now()

	row := kb.LogEntry{
		ActionType:         e.ActionType,
		IdempotencyKey:     e.Key,
		InputText:          e.InputText,
		Interpretation:     e.Interpretation,
		ActionTaken:        e.ActionTaken,
		Confidence:         e.Confidence,
		EntitiesAffected:   shared.Unique(e.Entities),
		ExternalAPI:        e.ExternalAPI,
		ExternalResourceID: e.ExternalResourceID,
		ErrorCode:          e.ErrorCode,
		ErrorMessage:       e.ErrorMessage,
		RetryCount:         e.RetryCount,
		Correction:         e.Correction,
		Timestamp:          now,
	}
	if e.Correction != "" {
		row.CorrectedAt = &now
	}
	if e.WithUndoWindow {
		until := now.Add(undoWindow)
		row.UndoAvailableUntil = &until
	}

	created, err := l.gw.CreateLogEntry(ctx, row)
	if err != nil {
		return kb.LogEntry{}, errors.Wrap(err, "audit: create log entry")
	}
	if e.Key != "" {
		l.remember(e.Key, created.ID)
	}
	return created, nil
}

// LogDeduplicated пишет маркер дедупликации: ключ "dedupe:<key>", в затронутых
// сущностях — идентификатор исходной записи. Другие изменения состояния при
// этом не происходят.
func (l *Logger) LogDeduplicated(ctx context.Context, key, originalID string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:  kb.ActionCapture,
		Key:         dedupePrefix + key,
		ActionTaken: fmt.Sprintf("deduplicated: action %q already performed as %s", key, originalID),
		Entities:    []string{originalID},
	})
	return err
}

// CheckAndLog — объединённая проверка: для дубликата пишется маркер и
// возвращается VerdictDuplicate (вызывающий пропускает действие); для нового
// ключа просто VerdictNew — настоящую запись вызывающий делает после действия.
func (l *Logger) CheckAndLog(ctx context.Context, key string) (Verdict, error) {
	verdict, originalID, err := l.Check(ctx, key)
	if err != nil {
		return VerdictNew, err
	}
	if verdict == VerdictDuplicate {
		if logErr := l.LogDeduplicated(ctx, key, originalID); logErr != nil {
			logger.Warnf("audit: dedupe marker for %s: %v", key, logErr)
		}
		return VerdictDuplicate, nil
	}
	return VerdictNew, nil
}

// LogCapture фиксирует захват входящего сообщения.
func (l *Logger) LogCapture(ctx context.Context, key, input, interpretation string, confidence int, entities ...string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:     kb.ActionCapture,
		Key:            key,
		InputText:      input,
		Interpretation: interpretation,
		ActionTaken:    "captured to inbox",
		Confidence:     confidence,
		Entities:       entities,
	})
	return err
}

// LogCreate фиксирует создание записи. Для событий календаря тип действия —
// calendar-create, для остальных сущностей — create.
func (l *Logger) LogCreate(ctx context.Context, key string, entity kb.EntityType, entityID, input, actionTaken string, confidence int) error {
	actionType := kb.ActionCreate
	if entity == kb.EntityCalendar {
		actionType = kb.ActionCalendarCreate
	}
	_, err := l.Log(ctx, Entry{
		ActionType:     actionType,
		Key:            key,
		InputText:      input,
		ActionTaken:    actionTaken,
		Confidence:     confidence,
		Entities:       []string{entityID},
		WithUndoWindow: true,
	})
	return err
}

// LogUpdate фиксирует изменение записи; correction описывает правку
// в форме "было → стало".
func (l *Logger) LogUpdate(ctx context.Context, key, entityID, actionTaken, correction string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:  kb.ActionUpdate,
		Key:         key,
		ActionTaken: actionTaken,
		Entities:    []string{entityID},
		Correction:  correction,
	})
	return err
}

// LogDelete фиксирует мягкое удаление.
func (l *Logger) LogDelete(ctx context.Context, key, entityID, actionTaken string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:  kb.ActionDelete,
		Key:         key,
		ActionTaken: actionTaken,
		Entities:    []string{entityID},
	})
	return err
}

// LogResearch фиксирует исследовательский запрос: задачу-развязку и внешний
// документ с полными заметками.
func (l *Logger) LogResearch(ctx context.Context, key, taskID, input, actionTaken, docID string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:         kb.ActionResearch,
		Key:                key,
		InputText:          input,
		ActionTaken:        actionTaken,
		Entities:           []string{taskID},
		ExternalResourceID: docID,
		WithUndoWindow:     true,
	})
	return err
}

// LogCalendarCreate фиксирует создание события календаря с внешним идентификатором.
func (l *Logger) LogCalendarCreate(ctx context.Context, key, taskID, eventID string) error {
	_, err := l.Log(ctx, Entry{
		ActionType:         kb.ActionCalendarCreate,
		Key:                key,
		ActionTaken:        "calendar event created",
		Entities:           []string{taskID},
		ExternalAPI:        "calendar",
		ExternalResourceID: eventID,
	})
	return err
}

// LogBriefing фиксирует отправку утренней сводки.
func (l *Logger) LogBriefing(ctx context.Context, key, chatID string, taskCount int) error {
	_, err := l.Log(ctx, Entry{
		ActionType:  kb.ActionSend,
		Key:         key,
		ActionTaken: fmt.Sprintf("morning briefing sent to %s (%d items)", chatID, taskCount),
	})
	return err
}

// LogError фиксирует ошибку обработки. Запись журнала об ошибке сама не должна
// генерировать ошибки наверх: сбой здесь только логируется.
func (l *Logger) LogError(ctx context.Context, key, input, errorCode, errorMessage string) {
	_, err := l.Log(ctx, Entry{
		ActionType:   kb.ActionError,
		Key:          key,
		InputText:    input,
		ActionTaken:  "processing failed",
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		logger.Warnf("audit: error entry for %s: %v", key, err)
	}
}

// remember кладёт ключ в горячий кэш и лениво вычищает истёкшие записи.
func (l *Logger) remember(key, logID string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, v := range l.seen {
		if now.After(v.expireAt) {
			delete(l.seen, k)
		}
	}
	l.seen[key] = seenEntry{logID: logID, expireAt: now.Add(cacheTTL)}
}
