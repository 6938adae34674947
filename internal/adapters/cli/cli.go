// Package cli — интерактивная операторская консоль ассистента.
// Сервис стартует фоном, читает команды из readline и транслирует их в
// commands.Executor: статус подсистем, дренаж офлайн-очереди, немедленные
// напоминания и брифинг, просмотр паттернов и недавних действий.
// Интеграция в lifecycle корректная: Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"second-brain/internal/domain/commands"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/pr"
)

// commandTimeout ограничивает выполнение одной консольной команды.
const commandTimeout = 30 * time.Second

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "status", description: "Show subsystem health, queue length and KB reachability"},
	{name: "drain", description: "Sync offline queue to the knowledge base now"},
	{name: "nudge", description: "Run the reminder pass immediately (time windows apply)"},
	{name: "briefing", description: "Send the morning briefing (idempotent per day)"},
	{name: "patterns", description: "List learned patterns with confidence"},
	{name: "recent", description: "recent <chat> — show recent assistant actions in a chat"},
	{name: "queue", description: "Show offline queue summary without draining"},
	{name: "loglevel", description: "loglevel <debug|info|warn|error> — change log verbosity"},
	{name: "version", description: "Print assistant version"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// Service инкапсулирует консоль и интегрируется в lifecycle приложения.
// Запускает цикл чтения команд в отдельной горутине и синхронно закрывается
// через Stop().
type Service struct {
	exec      commands.Executor  // исполнитель операторских команд
	stopApp   context.CancelFunc // внешняя отмена приложения (exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc // локальная отмена run-цикла
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консольный сервис поверх исполнителя команд.
func NewService(exec commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает основной цикл консоли в отдельной горутине. Повторные
// вызовы безопасно игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает консоль: прерывает readline, отменяет локальный контекст и
// дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл консоли: приглашение, обработчики клавиш и построчное
// чтение команд до отмены контекста или EOF от readline.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("Console started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения (stopApp);
//   - Ctrl-C на непустой строке — очистка текущей строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint:mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую строку и выполняет команду.
// Возвращает true, если команда инициирует завершение консоли ("exit").
func (s *Service) handleCommand(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch name {
	case "help":
		printCommandHelp()
	case "status":
		s.handleStatus(cmdCtx)
	case "drain":
		s.handleDrain(cmdCtx)
	case "nudge":
		if res, err := s.exec.RunNudge(cmdCtx); err != nil {
			pr.ErrPrintln("nudge error:", err)
		} else {
			pr.Printf("Nudge pass complete: %d reminder(s) sent.\n", res.Sent)
		}
	case "briefing":
		if res, err := s.exec.RunBriefing(cmdCtx); err != nil {
			pr.ErrPrintln("briefing error:", err)
		} else {
			pr.Println("Briefing sent to chat", res.SentTo)
		}
	case "patterns":
		s.handlePatterns(cmdCtx)
	case "recent":
		s.handleRecent(cmdCtx, arg)
	case "queue":
		if res, err := s.exec.Queue(cmdCtx); err != nil {
			pr.ErrPrintln("queue error:", err)
		} else {
			pr.Printf("Offline queue: %d pending action(s) in %s\n", res.Length, res.Path)
		}
	case "loglevel":
		if arg == "" {
			pr.ErrPrintln("usage: loglevel <debug|info|warn|error>")
		} else {
			pr.Println("log level is now", logger.SetLevel(arg))
		}
	case "version":
		if res, err := s.exec.Version(cmdCtx); err != nil {
			pr.ErrPrintln("version error:", err)
		} else {
			pr.Printf("%s v%s\n", res.Name, res.Version)
		}
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "":
		// ignore
	default:
		pr.Println("unknown command:", name)
	}
	return false
}

func (s *Service) handleStatus(ctx context.Context) {
	res, err := s.exec.Status(ctx)
	if err != nil {
		pr.ErrPrintln("status error:", err)
		return
	}

	for _, node := range res.Nodes {
		line := fmt.Sprintf("  %-18s %s", node.Name, node.Status)
		if node.Err != nil {
			line += " (" + node.Err.Error() + ")"
		}
		pr.Println(line)
	}
	pr.Printf("  %-18s %d pending\n", "offline queue", res.QueueLength)
	pr.Printf("  %-18s %s\n", "voice assistant", res.Assistant)
	if res.KBReachable {
		pr.Printf("  %-18s ok\n", "knowledge base")
	} else if res.KBError != "" {
		pr.Printf("  %-18s unreachable: %s\n", "knowledge base", res.KBError)
	} else {
		pr.Printf("  %-18s not checked\n", "knowledge base")
	}
}

func (s *Service) handleDrain(ctx context.Context) {
	res, err := s.exec.DrainQueue(ctx)
	if err != nil {
		pr.ErrPrintln("drain error:", err)
		return
	}
	pr.Printf("Drain: %d synced, %d deduplicated, %d failed, %d skipped; %d remaining.\n",
		res.Successful, res.Deduplicated, res.Failed, res.Skipped, res.Remaining)
	if !res.Clean() {
		pr.ErrPrintln("Drain left items behind; they will be retried on the next pass.")
	}
}

func (s *Service) handlePatterns(ctx context.Context) {
	res, err := s.exec.Patterns(ctx)
	if err != nil {
		pr.ErrPrintln("patterns error:", err)
		return
	}
	if len(res.Patterns) == 0 {
		pr.Println("No learned patterns yet.")
		return
	}
	for _, p := range res.Patterns {
		pr.Printf("  %q -> %q  (%s, confidence %d, confirmed %d)\n",
			p.Trigger, p.Meaning, p.Type, p.Confidence, p.TimesConfirmed)
	}
}

func (s *Service) handleRecent(ctx context.Context, chatID string) {
	if chatID == "" {
		pr.ErrPrintln("usage: recent <chat-id>")
		return
	}
	res, err := s.exec.Recent(ctx, chatID)
	if err != nil {
		pr.ErrPrintln("recent error:", err)
		return
	}
	if len(res.Actions) == 0 {
		pr.Println("No recent actions in chat", chatID)
		return
	}
	for _, a := range res.Actions {
		pr.Printf("  %s  %s %s %q (%s)\n",
			a.At.Format("15:04:05"), a.Type, a.Entity, a.Title, a.EntityID)
	}
}

// joinCommandNames собирает имена команд в одну строку для краткой подсказки.
func joinCommandNames(list []commandDescriptor) string {
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines формирует выровненные строки справки.
func buildCommandHelpLines(list []commandDescriptor) []string {
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, "Available commands:")
	for _, d := range list {
		lines = append(lines, fmt.Sprintf("  %-10s %s", d.name, d.description))
	}
	return lines
}
