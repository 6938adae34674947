// Package heartbeat — периодический пинг внешнего монитора доступности
// (healthchecks.io и совместимые). Успешный GET по настроенному URL означает
// «процесс жив»; пропуск двух подряд интервалов на стороне монитора трактуется
// как сбой и триггерит внешнее оповещение. Ошибки пинга никогда не валят
// приложение — только Warn в лог.
package heartbeat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"second-brain/internal/infra/logger"
)

const requestTimeout = 10 * time.Second

// Pinger шлёт heartbeat-запросы с фиксированным интервалом.
type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт пингер. Пустой url означает «мониторинг выключен»:
// Start/Stop остаются корректными no-op.
func New(url string, interval time.Duration) *Pinger {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Pinger{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

// Start запускает фоновый цикл пингов. Первый пинг уходит сразу,
// далее — каждые interval.
func (p *Pinger) Start(ctx context.Context) {
	if p.url == "" {
		logger.Debug("heartbeat: no URL configured, pinger disabled")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Go(func() {
		p.loop(runCtx)
	})
	logger.Infof("heartbeat: pinging %s every %s", p.url, p.interval)
}

// Stop останавливает цикл и дожидается завершения фоновой горутины.
func (p *Pinger) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pinger) loop(ctx context.Context) {
	p.ping(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ping(ctx)
		}
	}
}

func (p *Pinger) ping(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		logger.Warnf("heartbeat: build request: %v", err)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("heartbeat: ping failed: %v", err)
		}
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusMultipleChoices {
		logger.Warnf("heartbeat: monitor answered %d", resp.StatusCode)
		return
	}
	logger.Debug("heartbeat: ping ok")
}
