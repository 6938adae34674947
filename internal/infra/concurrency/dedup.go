// Package concurrency — вспомогательная инфраструктура конкурентного исполнения.
// Данный файл содержит Deduplicator — потокобезопасный кэш «недавно видели»,
// который подавляет повторную обработку событий в пределах заданного окна времени.
// Используется поверх входящих конвертов транспортов: webhook WhatsApp может
// доставить одно сообщение несколько раз, Telegram — продублировать апдейт
// после переподключения. Кэш работает ДО проверки идемпотентности в аудите и
// снимает с неё быстрые повторы, не требующие обращения к базе знаний.
package concurrency

import (
	"context"
	"sync"
	"time"

	"second-brain/internal/infra/logger"
)

// Deduplicator хранит сигнатуры недавно обработанных событий и решает,
// считать ли очередное событие повтором в рамках заданного окна.
// Ключом служит готовая строка (обычно `<source>:<chat>:<msg>`). Потокобезопасен.
type Deduplicator struct {
	mu     sync.Mutex           // защищает карту seen
	seen   map[string]time.Time // key -> expireAt
	window time.Duration        // окно, в течение которого событие считается повтором

	runMu  sync.Mutex         // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc // завершает цикл очистки
	wg     sync.WaitGroup     // дожидается фоновой горутины при остановке
}

// NewDeduplicator создаёт кэш подавления повторов с окном window.
// Нулевое окно подавляет повторы только мгновенно, поэтому обычно задают
// положительное значение (минуты).
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
	}
}

// Start поднимает фоновую горутину очистки устаревших ключей. Повторные вызовы
// безопасны и игнорируются. Nil-контекст отменяет запуск.
func (d *Deduplicator) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() {
		// Раз в минуту вычищаем просроченные записи, чтобы карта не росла бесконечно.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Cleanup()
			}
		}
	})
}

// Stop корректно завершает фоновую очистку и дожидается её окончания.
func (d *Deduplicator) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	d.wg.Wait()
}

// Seen сообщает, видели ли уже событие с данной сигнатурой в пределах окна.
// Возвращает true для повтора; иначе регистрирует сигнатуру и возвращает false.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		logger.Debugf("dedup seen: %s", key)
		return true
	}
	d.seen[key] = now.Add(d.window)
	return false
}

// Cleanup удаляет записи с истёкшим сроком. Потокобезопасен; вызывается фоново
// через Start либо синхронно по необходимости.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
}
