// В этом файле реализован Debouncer — механизм «сглаживания» повторяющихся
// событий по строковому ключу. Он откладывает выполнение функции до тех пор,
// пока активность по тому же ключу не утихнет, и запускает обработку один раз —
// по «последнему слову».
//
// Применение: отложенная персистентность журналов (журнал отправленных
// напоминаний пишется после каждой пометки; дебаунс схлопывает серию пометок
// одного прохода в одну запись на диск). Гарантии: потокобезопасность,
// выполнение отложенных функций вне критической секции, полный дренаж в Stop.
package concurrency

import (
	"context"
	"sync"
	"time"
)

// Debouncer группирует повторяющиеся действия по ключу и запускает их только
// один раз после паузы. Потокобезопасен и переиспользуется из многих горутин.
type Debouncer struct {
	mu      sync.Mutex              // защищает pending
	pending map[string]pendingEntry // активные таймеры и функции по ключу
	timeout time.Duration           // задержка между последним событием и вызовом fn

	runMu  sync.Mutex         // сериализует Start/Stop
	cancel context.CancelFunc // инициирует остановку
	wg     sync.WaitGroup     // дожидается наблюдателя
}

// pendingEntry хранит таймер и отложенный колбэк, чтобы при остановке выполнить его вручную.
type pendingEntry struct {
	timer *time.Timer
	fn    func()
}

// NewDebouncer создаёт дебаунсер с заданной задержкой. Привязка к жизненному
// циклу выполняется через Start.
func NewDebouncer(timeout time.Duration) *Debouncer {
	return &Debouncer{
		pending: make(map[string]pendingEntry),
		timeout: timeout,
	}
}

// Start привязывает Debouncer к контексту: при его отмене накопленные вызовы
// дренируются. Повторные вызовы игнорируются; nil-контекст означает «не запускать».
func (d *Debouncer) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Go(func() {
		<-runCtx.Done()
		d.flushPending()
	})
}

// Stop останавливает дебаунсер: отменяет контекст, дожидается наблюдателя и
// синхронно выполняет все отложенные функции. После возврата активных таймеров
// не остаётся.
func (d *Debouncer) Stop() {
	d.runMu.Lock()
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	// flushPending выполняется и наблюдателем при отмене контекста; повторный
	// вызов безопасен — карта уже пуста.
	d.flushPending()
}

// Do откладывает выполнение fn на timeout. Повторный вызов с тем же ключом
// переармирует таймер и заменяет функцию: выполнится последняя версия.
func (d *Debouncer) Do(key string, fn func()) {
	d.mu.Lock()

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
	}

	timer := time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		entry, ok := d.pending[key]
		if ok {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		// Вызов вне критической секции: fn может писать на диск.
		if ok && entry.fn != nil {
			entry.fn()
		}
	})

	d.pending[key] = pendingEntry{timer: timer, fn: fn}
	d.mu.Unlock()
}

// Flush немедленно выполняет отложенную функцию по ключу, если она есть.
func (d *Debouncer) Flush(key string) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if ok {
		entry.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok && entry.fn != nil {
		entry.fn()
	}
}

// flushPending выполняет все накопленные функции. Вызывается при остановке.
func (d *Debouncer) flushPending() {
	d.mu.Lock()
	entries := make([]pendingEntry, 0, len(d.pending))
	for key, entry := range d.pending {
		entry.timer.Stop()
		entries = append(entries, entry)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		if entry.fn != nil {
			entry.fn()
		}
	}
}
