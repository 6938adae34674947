// Package nudge — планировщик проактивных напоминаний. В этом файле (ledger.go)
// живёт журнал отправленных напоминаний: отметки «задача × тип × день уже
// отправлено», загрузка снимка с отсевом устаревших записей, ленивые
// debounced-сохранения и принудительный флаш при остановке. Ключевые задачи:
//   - детерминированный ключ (taskID:type:yyyy-mm-dd) для быстрых проверок;
//   - чистка записей старше ledgerTTL при каждой записи;
//   - единственный писатель — горутина планировщика.
package nudge

import (
	"sync"
	"time"

	"second-brain/internal/infra/concurrency"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/storage"
	"second-brain/internal/infra/timeutil"
)

const (
	// ledgerTTL — срок хранения отметки. Напоминания привязаны к дню;
	// недельного запаса достаточно для любых повторных проверок.
	ledgerTTL = 7 * 24 * time.Hour

	// ledgerSaveDebounce — минимальный интервал между дисковыми сохранениями.
	ledgerSaveDebounce = 5 * time.Second

	ledgerSaveKey = "nudge-ledger"
)

// persistedLedger — on-disk формат: ключ → момент отправки в ISO-8601.
type persistedLedger map[string]string

// Ledger — журнал отправленных напоминаний с debounced-персистентностью.
type Ledger struct {
	mu   sync.Mutex
	sent map[string]time.Time

	path     string
	debounce *concurrency.Debouncer
	now      func() time.Time
}

// NewLedger создаёт журнал над файлом path и загружает снимок с диска.
func NewLedger(path string, nowFn func() time.Time) *Ledger {
	if nowFn == nil {
		nowFn = time.Now
	}
	l := &Ledger{
		sent:     make(map[string]time.Time),
		path:     path,
		debounce: concurrency.NewDebouncer(ledgerSaveDebounce),
		now:      nowFn,
	}
	l.load()
	return l
}

// Key строит ключ отметки: "<taskID>:<type>:<yyyy-mm-dd>".
func Key(taskID string, t Type, day time.Time) string {
	return taskID + ":" + string(t) + ":" + timeutil.FormatDay(day)
}

// Sent сообщает, отправлялось ли уже напоминание с данным ключом.
func (l *Ledger) Sent(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sent[key]
	return ok
}

// MarkSent ставит отметку об отправке и планирует отложенную запись на диск.
// Записи старше ledgerTTL вычищаются попутно.
func (l *Ledger) MarkSent(key string) {
	now := l.now()

	l.mu.Lock()
	cutoff := now.Add(-ledgerTTL)
	for k, at := range l.sent {
		if at.Before(cutoff) {
			delete(l.sent, k)
		}
	}
	l.sent[key] = now
	l.mu.Unlock()

	l.debounce.Do(ledgerSaveKey, l.save)
}

// Flush принудительно записывает журнал на диск (вызывается при остановке).
func (l *Ledger) Flush() {
	l.debounce.Flush(ledgerSaveKey)
}

// Len возвращает число активных отметок (для статуса консоли).
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

// load восстанавливает снимок с диска, отбрасывая устаревшие и нечитаемые записи.
func (l *Ledger) load() {
	var onDisk persistedLedger
	found, err := storage.LoadJSON(l.path, &onDisk)
	if err != nil {
		logger.Warnf("nudge: ledger load: %v", err)
		return
	}
	if !found {
		return
	}

	cutoff := l.now().Add(-ledgerTTL)
	for key, raw := range onDisk {
		at, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil || at.Before(cutoff) {
			continue
		}
		l.sent[key] = at
	}
	logger.Debugf("nudge: ledger loaded, %d entries", len(l.sent))
}

// save пишет снимок атомарно. Вызывается из дебаунсера.
func (l *Ledger) save() {
	l.mu.Lock()
	onDisk := make(persistedLedger, len(l.sent))
	for key, at := range l.sent {
		onDisk[key] = at.Format(time.RFC3339)
	}
	l.mu.Unlock()

	if err := storage.SaveJSON(l.path, onDisk); err != nil {
		logger.Warnf("nudge: ledger save: %v", err)
	}
}
