// Файл check.go — самопроверка перед запуском: конфигурация, доступность
// базы знаний, пригодность каталога данных. Используется подкомандой check
// и годится для проверки окружения после деплоя без старта транспортов.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"second-brain/internal/adapters/notion"
	"second-brain/internal/infra/config"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/timeutil"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 30 * time.Second

// CheckResult — итог одной проверки.
type CheckResult struct {
	Name string
	Err  error
}

// OK сообщает, прошла ли проверка.
func (r CheckResult) OK() bool { return r.Err == nil }

// Check прогоняет самопроверки параллельно и возвращает их результаты.
// Порядок результатов стабилен. Ошибка возврата — только отмена контекста.
func Check(ctx context.Context) ([]CheckResult, error) {
	env := config.Env()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make([]CheckResult, 4)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		results[0] = CheckResult{Name: "timezone", Err: checkTimezone(env.UserTimezone)}
		return nil
	})
	g.Go(func() error {
		results[1] = CheckResult{Name: "data dir", Err: checkDataDir(env.DataDir)}
		return nil
	})
	g.Go(func() error {
		results[2] = CheckResult{Name: "knowledge base", Err: checkKB(gCtx, env)}
		return nil
	})
	g.Go(func() error {
		results[3] = CheckResult{Name: "transports", Err: checkTransports(env)}
		return nil
	})

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func checkTimezone(zone string) error {
	_, err := timeutil.ParseLocation(zone)
	return err
}

// checkDataDir проверяет, что каталог данных существует и доступен на запись.
func checkDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func checkKB(ctx context.Context, env config.EnvConfig) error {
	if !env.NotionEnabled() {
		return fmt.Errorf("not configured (NOTION_API_KEY and database ids are required)")
	}
	client := notion.NewClient(env.NotionAPIKey, env.NotionRPS)
	return client.Ping(ctx, env.NotionTasksDB)
}

// checkTransports требует хотя бы один входящий канал.
func checkTransports(env config.EnvConfig) error {
	if !env.TelegramEnabled() && !env.WhatsAppEnabled() {
		return fmt.Errorf("no transport configured (telegram or whatsapp credentials are required)")
	}
	if env.TelegramEnabled() && env.TelegramChatID == 0 {
		logger.Warn("TELEGRAM_CHAT_ID is not set; nudges and briefing will be disabled")
	}
	return nil
}
