package commands

import (
	"context"
	"sync/atomic"
	"time"

	"second-brain/internal/domain/briefing"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/listener"
	"second-brain/internal/domain/nudge"
	"second-brain/internal/domain/patterns"
	"second-brain/internal/domain/queue"
	"second-brain/internal/domain/recent"
	"second-brain/internal/infra/lifecycle"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared/fault"
	versioninfo "second-brain/internal/support/version"
)

// kbPingTimeout ограничивает проверку доступности базы знаний в Status.
const kbPingTimeout = 10 * time.Second

// Deps — зависимости исполнителя. Nil-поля допустимы: соответствующие
// команды вернут ошибку конфигурации вместо паники.
type Deps struct {
	Gateway   kb.Gateway
	Queue     *queue.Store
	Nudger    *nudge.Engine
	Briefing  *briefing.Generator
	Sender    envelope.Sender // транспорт брифинга
	ChatID    string          // чат владельца для брифинга
	Patterns  *patterns.Applicator
	Recent    *recent.Book
	Lifecycle *lifecycle.Manager
	Assistant listener.Listener
	// KBPing проверяет доступность базы знаний (Notion ping).
	KBPing func(ctx context.Context) error
}

// CommandExecutor — реализация Executor поверх доменных сервисов.
type CommandExecutor struct {
	deps     Deps
	draining int64 // защита от параллельного дренажа из консоли и фона
}

var _ Executor = (*CommandExecutor)(nil)

// NewExecutor создаёт исполнителя операторских команд.
func NewExecutor(deps Deps) *CommandExecutor {
	return &CommandExecutor{deps: deps}
}

// Status собирает снимок работоспособности: узлы жизненного цикла, длину
// офлайн-очереди и доступность базы знаний.
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	res := &StatusResult{CheckedAt: time.Now()}

	if e.deps.Lifecycle != nil {
		res.Nodes = e.deps.Lifecycle.Report()
	}
	if e.deps.Queue != nil {
		res.QueueLength = e.deps.Queue.Len()
	}

	res.Assistant = listener.StateNotAvailable
	if e.deps.Assistant != nil {
		res.Assistant = e.deps.Assistant.State()
	}

	if e.deps.KBPing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, kbPingTimeout)
		defer cancel()
		if err := e.deps.KBPing(pingCtx); err != nil {
			res.KBError = err.Error()
		} else {
			res.KBReachable = true
		}
	}

	return res, nil
}

// DrainQueue выполняет один дренаж офлайн-очереди. Повторный вызов во время
// идущего дренажа отклоняется, чтобы не гонять файл очереди конкурентно.
func (e *CommandExecutor) DrainQueue(ctx context.Context) (*DrainResult, error) {
	if e.deps.Queue == nil || e.deps.Gateway == nil {
		return nil, fault.New(fault.KindConfig, "offline queue is not available")
	}
	if !atomic.CompareAndSwapInt64(&e.draining, 0, 1) {
		return nil, fault.New(fault.KindTransient, "drain is already running")
	}
	defer atomic.StoreInt64(&e.draining, 0)

	report, err := e.deps.Queue.Drain(ctx, e.deps.Gateway)
	if err != nil {
		return nil, err
	}

	res := &DrainResult{
		Successful:   report.Successful,
		Failed:       report.Failed,
		Deduplicated: report.Deduplicated,
		Skipped:      report.Skipped,
		Remaining:    e.deps.Queue.Len(),
	}
	logger.Infof("drain: ok=%d failed=%d dedup=%d skipped=%d remaining=%d",
		res.Successful, res.Failed, res.Deduplicated, res.Skipped, res.Remaining)
	return res, nil
}

// RunNudge прогоняет напоминания немедленно. Временные окна и журнал
// отправленных при этом действуют как в фоновом цикле.
func (e *CommandExecutor) RunNudge(ctx context.Context) (*NudgeResult, error) {
	if e.deps.Nudger == nil {
		return nil, fault.New(fault.KindConfig, "nudge engine is not available")
	}
	sent, err := e.deps.Nudger.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &NudgeResult{Sent: sent}, nil
}

// RunBriefing отправляет брифинг владельцу. Ключ идемпотентности дневной:
// повторный запуск в тот же день ничего не шлёт.
func (e *CommandExecutor) RunBriefing(ctx context.Context) (*BriefingResult, error) {
	if e.deps.Briefing == nil || e.deps.Sender == nil || e.deps.ChatID == "" {
		return nil, fault.New(fault.KindConfig, "briefing transport is not available")
	}
	if err := e.deps.Briefing.Send(ctx, e.deps.Sender, e.deps.ChatID); err != nil {
		return nil, err
	}
	return &BriefingResult{SentTo: e.deps.ChatID}, nil
}

// Patterns обновляет и возвращает кэш выученных паттернов.
func (e *CommandExecutor) Patterns(ctx context.Context) (*PatternsResult, error) {
	if e.deps.Patterns == nil {
		return nil, fault.New(fault.KindConfig, "patterns are not available")
	}
	if err := e.deps.Patterns.Refresh(ctx); err != nil {
		// Кэш пригоден и без обновления, показываем что есть.
		logger.Warnf("patterns refresh failed, serving cache: %v", err)
	}
	return &PatternsResult{Patterns: e.deps.Patterns.Cached()}, nil
}

// Recent возвращает недавние действия ассистента в чате.
func (e *CommandExecutor) Recent(_ context.Context, chatID string) (*RecentResult, error) {
	if e.deps.Recent == nil {
		return nil, fault.New(fault.KindConfig, "recent actions are not available")
	}
	if chatID == "" {
		return nil, fault.New(fault.KindValidation, "chat id is required")
	}
	return &RecentResult{Actions: e.deps.Recent.List(chatID)}, nil
}

// Queue возвращает сводку офлайн-очереди.
func (e *CommandExecutor) Queue(_ context.Context) (*QueueResult, error) {
	if e.deps.Queue == nil {
		return nil, fault.New(fault.KindConfig, "offline queue is not available")
	}
	return &QueueResult{
		Length: e.deps.Queue.Len(),
		Path:   e.deps.Queue.Path(),
	}, nil
}

// Version возвращает сведения о сборке.
func (e *CommandExecutor) Version(_ context.Context) (*VersionResult, error) {
	return &VersionResult{
		Name:    versioninfo.Name,
		Version: versioninfo.Version,
	}, nil
}
