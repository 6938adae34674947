// Package commands — общий интерфейс операторских команд ассистента.
// Команды используются консолью (adapters/cli) и подкомандами бинарника,
// поэтому отделены от способа ввода: исполнитель ничего не знает про
// readline или cobra.
package commands

import (
	"context"
	"time"

	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/listener"
	"second-brain/internal/domain/recent"
	"second-brain/internal/infra/lifecycle"
)

// Executor выполняет операторские команды над запущенным ассистентом.
type Executor interface {
	// Status возвращает состояние подсистем, длину офлайн-очереди и
	// доступность базы знаний.
	Status(ctx context.Context) (*StatusResult, error)

	// DrainQueue синхронизирует офлайн-очередь с базой знаний.
	DrainQueue(ctx context.Context) (*DrainResult, error)

	// RunNudge немедленно прогоняет цикл напоминаний, окна времени соблюдаются.
	RunNudge(ctx context.Context) (*NudgeResult, error)

	// RunBriefing отправляет утренний брифинг (идемпотентно в пределах дня).
	RunBriefing(ctx context.Context) (*BriefingResult, error)

	// Patterns возвращает кэш выученных паттернов.
	Patterns(ctx context.Context) (*PatternsResult, error)

	// Recent возвращает недавние действия ассистента в чате.
	Recent(ctx context.Context, chatID string) (*RecentResult, error)

	// Queue возвращает сводку офлайн-очереди без её дренажа.
	Queue(ctx context.Context) (*QueueResult, error)

	// Version возвращает сведения о сборке.
	Version(ctx context.Context) (*VersionResult, error)
}

// StatusResult — результат команды Status.
type StatusResult struct {
	Nodes       []lifecycle.NodeReport // состояние управляемых подсистем
	QueueLength int                    // отложенные действия в офлайн-очереди
	KBReachable bool                   // отвечает ли база знаний
	KBError     string                 // текст ошибки проверки, если была
	Assistant   listener.State         // состояние голосового ассистента
	CheckedAt   time.Time
}

// DrainResult — результат команды DrainQueue.
type DrainResult struct {
	Successful   int
	Failed       int
	Deduplicated int
	Skipped      int
	Remaining    int
}

// Clean сообщает, прошёл ли дренаж без потерь.
func (r DrainResult) Clean() bool { return r.Failed == 0 && r.Skipped == 0 }

// NudgeResult — результат команды RunNudge.
type NudgeResult struct {
	Sent int
}

// BriefingResult — результат команды RunBriefing.
type BriefingResult struct {
	SentTo string // чат, в который отправлен брифинг
}

// PatternsResult — результат команды Patterns.
type PatternsResult struct {
	Patterns []kb.Pattern
}

// RecentResult — результат команды Recent.
type RecentResult struct {
	Actions []recent.Action
}

// QueueResult — результат команды Queue.
type QueueResult struct {
	Length int
	Path   string
}

// VersionResult — результат команды Version.
type VersionResult struct {
	Name    string
	Version string
}
