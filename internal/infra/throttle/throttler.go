// Package throttle — общий механизм ограничения скорости и повторных попыток
// для внешних интеграций (база знаний, WhatsApp Graph, геокодер).
// В основе — токен-бакет golang.org/x/time/rate и экспоненциальный backoff с
// джиттером: 1s, 2s, 4s, … с потолком 60s. Повторяются только временные сбои
// (fault.KindTransient); постоянные отказы, not-found и ошибки валидации
// возвращаются сразу. Серверные указания подождать (Retry-After и т.п.)
// учитываются через настраиваемые WaitExtractor и не расходуют попытки.
// Троттлер потокобезопасен: Do может вызываться параллельно.
package throttle

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"second-brain/internal/shared/fault"
)

const (
	// burstMultiplier задаёт burst по умолчанию как кратный rate: кратковременный
	// «впрыск» до 2*rate операций в секунду.
	burstMultiplier = 2

	// defaultBaseDelay — пауза перед первым повтором; далее удваивается.
	defaultBaseDelay = time.Second

	// maxBackoff — потолок экспоненциальной задержки.
	maxBackoff = 60 * time.Second
)

// WaitExtractor анализирует ошибку и, при необходимости, возвращает длительность
// ожидания. Булев флаг показывает, что экстрактор распознал формат ошибки.
// Экстракторы вызываются в порядке регистрации; первый совпавший определяет паузу.
type WaitExtractor func(err error) (time.Duration, bool)

// Option задаёт дополнительные параметры троттлера при создании.
type Option func(*Throttler)

// WithMaxRetries ограничивает количество повторных попыток. Значение <= 0
// означает отсутствие ограничения.
func WithMaxRetries(maxRetries int) Option {
	return func(t *Throttler) {
		t.maxRetries = maxRetries
	}
}

// WithBurst переопределяет ёмкость токен-бакета.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		if burst > 0 {
			t.burst = burst
		}
	}
}

// WithWaitExtractors регистрирует экстракторы серверных задержек.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		if len(extractors) == 0 {
			return
		}
		cloned := make([]WaitExtractor, len(extractors))
		copy(cloned, extractors)
		t.waitExtractors = append(t.waitExtractors, cloned...)
	}
}

// WithRandom задаёт источник случайности для джиттера (детерминированные тесты).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// WithBaseDelay переопределяет базовую задержку перед первым повтором
// (по умолчанию 1s).
func WithBaseDelay(delay time.Duration) Option {
	return func(t *Throttler) {
		if delay > 0 {
			t.baseDelay = delay
		}
	}
}

// Throttler объединяет rate.Limiter (RPS + burst) и стратегию повторных попыток.
type Throttler struct {
	limiter *rate.Limiter

	burst          int
	waitExtractors []WaitExtractor
	maxRetries     int            // лимит ретраев; <= 0 — без ограничений
	baseDelay      time.Duration  // старт экспоненциального backoff
	randomFn       func() float64 // источник случайности для джиттера
}

// New создаёт троттлер с частотой rps (операций/сек). По умолчанию
// burst = 2*rps (минимум 1), ретраи не ограничены.
func New(rps int, opts ...Option) *Throttler {
	if rps <= 0 {
		rps = 1
	}

	t := &Throttler{
		burst:      rps * burstMultiplier,
		maxRetries: -1,
		baseDelay:  defaultBaseDelay,
		randomFn:   rand.Float64,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.burst < 1 {
		t.burst = 1
	}

	t.limiter = rate.NewLimiter(rate.Limit(rps), t.burst)
	return t
}

// Do выполняет fn с лимитом токен-бакета и ретраями.
// Алгоритм:
//  1. ждём токен (с уважением к ctx);
//  2. вызываем fn;
//  3. если ошибка: отменённый контекст → вернуть; экстрактор дал паузу →
//     подождать и повторить без роста attempt; не-transient → вернуть сразу;
//     иначе экспоненциальный backoff с джиттером в пределах лимита ретраев.
//
// Возвращает nil при успехе либо последнюю ошибку при исчерпании стратегии.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempt := 0
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}

		if waitDur, ok := t.extractWait(callErr); ok {
			// Сервер велел подождать — ждём и повторяем без роста attempt.
			if wErr := wait(ctx, waitDur); wErr != nil {
				return wErr
			}
			continue
		}

		if !fault.IsTransient(callErr) {
			return callErr
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return errors.Wrapf(callErr, "throttle: max retries reached (%d)", t.maxRetries)
		}

		sleep := t.expBackoff(attempt)
		attempt++
		if wErr := wait(ctx, sleep); wErr != nil {
			return wErr
		}
	}
}

// extractWait прогоняет ошибку по цепочке экстракторов.
func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extractor := range t.waitExtractors {
		if extractor == nil {
			continue
		}
		if waitDur, ok := extractor(err); ok {
			return waitDur, true
		}
	}
	return 0, false
}

// expBackoff вычисляет задержку baseDelay*2^attempt (1s, 2s, 4s, …),
// ограниченную maxBackoff и умноженную на джиттер из диапазона [0.85..1.15].
func (t *Throttler) expBackoff(attempt int) time.Duration {
	const (
		jitterRange = 0.3
		jitterMin   = 0.85
	)

	delay := float64(t.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxBackoff) {
		delay = float64(maxBackoff)
	}

	jitter := t.randomFn()*jitterRange + jitterMin
	return time.Duration(delay * jitter)
}

// wait ждёт duration или отмену контекста.
func wait(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer stopTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// stopTimer безопасно останавливает таймер и дренирует канал, если тик уже произошёл.
func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
