// Файл runner.go — оркестрация запуска и остановки. Подсистемы регистрируются
// в lifecycle.Manager с явными зависимостями, стартуют в топологическом
// порядке и гаснут в обратном с общим грейс-периодом. Консоль поднимается
// только при интерактивном терминале; офлайн-очередь дренируется фоном,
// чтобы накопленное за время недоступности базы знаний уходило без участия
// оператора.
package app

import (
	"context"
	"os"
	"sync"
	"time"

	"second-brain/internal/adapters/cli"
	"second-brain/internal/infra/heartbeat"
	"second-brain/internal/infra/lifecycle"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/pr"

	"golang.org/x/term"
)

const (
	shutdownGrace = 10 * time.Second
	// drainInterval — период фоновой синхронизации офлайн-очереди.
	drainInterval = 5 * time.Minute
)

// runAll регистрирует подсистемы, запускает их и блокируется до отмены
// корневого контекста. Возвращает ошибку запуска либо объединённые ошибки
// остановки.
func (a *App) runAll() error {
	life := lifecycle.New(a.mainCtx)
	a.life = life
	a.exec = a.executor(life)

	var tgDone sync.WaitGroup

	if a.tg != nil {
		life.MustRegister("telegram", nil,
			func(ctx context.Context) error {
				tgDone.Go(func() {
					if err := a.tg.Run(ctx); err != nil && ctx.Err() == nil {
						logger.Errorf("telegram stopped: %v", err)
						a.mainCancel()
					}
				})
				return nil
			},
			func(ctx context.Context) error {
				done := make(chan struct{})
				go func() {
					tgDone.Wait()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
	}

	if a.wa != nil {
		life.MustRegister("whatsapp", nil,
			func(ctx context.Context) error {
				go func() {
					if err := a.wa.Start(); err != nil {
						logger.Errorf("whatsapp server stopped: %v", err)
						a.mainCancel()
					}
				}()
				return nil
			},
			func(ctx context.Context) error {
				return a.wa.Shutdown(ctx)
			})
	}

	if a.nudger != nil {
		life.MustRegister("nudges", []string{"telegram"},
			func(ctx context.Context) error {
				go a.nudger.Loop(ctx)
				return nil
			}, nil)
	}

	if a.scanner != nil {
		life.MustRegister("email_scan", nil,
			func(ctx context.Context) error {
				go a.scanner.Loop(ctx, time.Duration(a.env.EmailScanIntervalM)*time.Minute)
				return nil
			}, nil)
	}

	life.MustRegister("dedup", nil,
		func(ctx context.Context) error {
			a.dedup.Start(ctx)
			return nil
		},
		func(_ context.Context) error {
			a.dedup.Stop()
			return nil
		})

	life.MustRegister("queue_drain", nil,
		func(ctx context.Context) error {
			go a.drainLoop(ctx)
			return nil
		}, nil)

	if a.env.HeartbeatURL != "" {
		hb := heartbeat.New(a.env.HeartbeatURL, time.Duration(a.env.HeartbeatIntervalS)*time.Second)
		life.MustRegister("heartbeat", nil,
			func(ctx context.Context) error {
				hb.Start(ctx)
				return nil
			},
			func(_ context.Context) error {
				hb.Stop()
				return nil
			})
	}

	a.registerConsole(life)

	if err := life.StartAll(); err != nil {
		a.shutdown(life)
		return err
	}

	logger.Info("assistant is running")
	<-a.mainCtx.Done()
	logger.Info("shutdown signal received")

	return a.shutdown(life)
}

// registerConsole поднимает операторскую консоль, если stdin — терминал.
// В systemd/docker она не нужна и readline там не работает.
func (a *App) registerConsole(life *lifecycle.Manager) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Debug("stdin is not a terminal, console disabled")
		return
	}

	console := cli.NewService(a.exec, a.mainCancel)
	life.MustRegister("console", nil,
		func(ctx context.Context) error {
			if err := pr.Init("> "); err != nil {
				return err
			}
			// Логи уходят в буферы readline, чтобы не рвать строку ввода.
			logger.SetWriters(pr.Stdout(), pr.Stderr())
			console.Start(ctx)
			return nil
		},
		func(_ context.Context) error {
			console.Stop()
			return nil
		})
}

// drainLoop периодически синхронизирует офлайн-очередь. Пустая очередь —
// бесплатный тик; непустая уходит в базу знаний пачкой с дедупликацией.
func (a *App) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.queue.Len() == 0 {
				continue
			}
			if res, err := a.exec.DrainQueue(ctx); err != nil {
				logger.Warnf("background drain: %v", err)
			} else if res.Successful > 0 || res.Failed > 0 {
				logger.Infof("background drain: %d synced, %d failed, %d remaining",
					res.Successful, res.Failed, res.Remaining)
			}
		}
	}
}

// shutdown гасит подсистемы с общим дедлайном и сбрасывает журнал напоминаний.
func (a *App) shutdown(life *lifecycle.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := life.Shutdown(ctx)
	if a.nudgeLedger != nil {
		a.nudgeLedger.Flush()
	}
	logger.Sync()
	return err
}
