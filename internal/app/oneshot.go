// Файл oneshot.go — одноразовые сценарии для подкоманд бинарника: дренаж
// очереди, немедленные напоминания и брифинг без подъёма всего приложения.
// Telegram при необходимости поднимается на время команды и гасится сразу
// после неё.
package app

import (
	"context"
	"time"

	"second-brain/internal/domain/commands"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared/fault"

	"github.com/go-faster/errors"
)

// connectTimeout — ожидание авторизации Telegram в одноразовых командах.
const connectTimeout = 60 * time.Second

// DrainOnce синхронизирует офлайн-очередь один раз. Транспорты не поднимаются:
// дренажу нужны только файл очереди и база знаний.
func (a *App) DrainOnce(ctx context.Context) (*commands.DrainResult, error) {
	if err := a.build(); err != nil {
		return nil, err
	}
	a.exec = a.executor(nil)
	return a.exec.DrainQueue(ctx)
}

// NudgeOnce подключает Telegram, прогоняет цикл напоминаний и отключается.
func (a *App) NudgeOnce(ctx context.Context) (*commands.NudgeResult, error) {
	var res *commands.NudgeResult
	err := a.withTelegram(ctx, func(ctx context.Context) error {
		var runErr error
		res, runErr = a.exec.RunNudge(ctx)
		return runErr
	})
	return res, err
}

// BriefingOnce подключает Telegram и отправляет брифинг владельцу.
func (a *App) BriefingOnce(ctx context.Context) (*commands.BriefingResult, error) {
	var res *commands.BriefingResult
	err := a.withTelegram(ctx, func(ctx context.Context) error {
		var runErr error
		res, runErr = a.exec.RunBriefing(ctx)
		return runErr
	})
	return res, err
}

// withTelegram собирает приложение, держит Telegram-клиента на время fn
// и корректно его гасит.
func (a *App) withTelegram(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.build(); err != nil {
		return err
	}
	a.exec = a.executor(nil)

	if a.tg == nil {
		return fault.New(fault.KindConfig, "telegram is not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.tg.Run(runCtx)
	}()

	waitCtx, waitCancel := context.WithTimeout(runCtx, connectTimeout)
	err := a.tg.WaitOnline(waitCtx)
	waitCancel()
	if err != nil {
		cancel()
		<-done
		return errors.Wrap(err, "telegram connect")
	}

	fnErr := fn(runCtx)

	cancel()
	if runErr := <-done; runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warnf("telegram shutdown: %v", runErr)
	}
	return fnErr
}
