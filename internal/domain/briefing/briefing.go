// Package briefing — утренняя сводка и интерактивный разбор неясных входящих.
// Сводка собирается из трёх секций (на сегодня, просроченные, требуют
// уточнения) и отправляется не чаще раза в сутки на чат; разбор ведётся
// пошаговой машиной состояний на каждый чат.
package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/timeutil"
	"second-brain/internal/shared"
)

// maxSectionItems — верхняя граница строк в одной секции сводки.
const maxSectionItems = 10

// Generator составляет и рассылает утреннюю сводку.
type Generator struct {
	gw    kb.Gateway
	audit *audit.Logger
	loc   *time.Location
	now   func() time.Time
}

// NewGenerator создаёт генератор сводок в зоне пользователя loc.
func NewGenerator(gw kb.Gateway, auditLog *audit.Logger, loc *time.Location, nowFn func() time.Time) *Generator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{gw: gw, audit: auditLog, loc: loc, now: nowFn}
}

// Compose собирает текст сводки на текущие сутки. Возвращает текст и число
// пунктов; при нуле пунктов сводка всё равно отправляется как "nothing due".
func (g *Generator) Compose(ctx context.Context) (string, int, error) {
	now := g.now().In(g.loc)
	todayStart := timeutil.StartOfDay(now)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	excluded := []kb.TaskStatus{kb.TaskDone, kb.TaskCancelled, kb.TaskDeleted}

	dueToday, err := g.gw.QueryTasks(ctx, kb.TaskQuery{
		DueFrom: &todayStart, DueUntil: &tomorrowStart, ExcludeStatuses: excluded,
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "briefing: query due today")
	}

	overdue, err := g.gw.QueryTasks(ctx, kb.TaskQuery{
		DueUntil: &todayStart, ExcludeStatuses: excluded,
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "briefing: query overdue")
	}

	needsWork := true
	unprocessed := false
	flagged, err := g.gw.QueryInbox(ctx, kb.InboxQuery{
		NeedsClarification: &needsWork,
		Processed:          &unprocessed,
		Limit:              maxSectionItems,
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "briefing: query inbox")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Good morning! Briefing for %s\n", now.Format("Monday, Jan 2"))
	count := 0

	if len(dueToday) > 0 {
		b.WriteString("\nDUE TODAY:\n")
		for i, t := range dueToday {
			if i >= maxSectionItems {
				fmt.Fprintf(&b, "  ...and %d more\n", len(dueToday)-maxSectionItems)
				break
			}
			fmt.Fprintf(&b, "  - %s\n", taskLine(t, g.loc))
			count++
		}
	}
	if len(overdue) > 0 {
		b.WriteString("\nOVERDUE:\n")
		for i, t := range overdue {
			if i >= maxSectionItems {
				fmt.Fprintf(&b, "  ...and %d more\n", len(overdue)-maxSectionItems)
				break
			}
			days := 0
			if t.Due != nil {
				days = int(todayStart.Sub(timeutil.StartOfDay(t.Due.In(g.loc))).Hours() / 24)
			}
			fmt.Fprintf(&b, "  - %s (%d days)\n", t.Title, days)
			count++
		}
	}
	if len(flagged) > 0 {
		b.WriteString("\nNEEDS CLARIFICATION:\n")
		for _, item := range flagged {
			fmt.Fprintf(&b, "  - %s\n", shortInput(item.RawInput))
			count++
		}
		b.WriteString("\nSay /debrief to go through these.")
	}

	if count == 0 {
		b.WriteString("\nNothing due today. Inbox is clear.")
	}
	return b.String(), count, nil
}

// Send составляет сводку и отправляет её на chatID. Повторный запуск за те же
// сутки поглощается идемпотентным ключом и ничего не шлёт.
func (g *Generator) Send(ctx context.Context, sender envelope.Sender, chatID string) error {
	day := g.now().In(g.loc)
	key := audit.BriefingKey(day, chatID)

	verdict, err := g.audit.CheckAndLog(ctx, key)
	if err != nil {
		return errors.Wrap(err, "briefing: idempotency check")
	}
	if verdict == audit.VerdictDuplicate {
		return nil
	}

	text, count, err := g.Compose(ctx)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, chatID, text); err != nil {
		return errors.Wrap(err, "briefing: send")
	}
	return g.audit.LogBriefing(ctx, key, chatID, count)
}

// taskLine рендерит задачу одной строкой: заголовок и, если задано, время.
func taskLine(t kb.Task, loc *time.Location) string {
	if t.Due == nil {
		return t.Title
	}
	due := t.Due.In(loc)
	if due.Hour() == 0 && due.Minute() == 0 {
		return t.Title
	}
	return fmt.Sprintf("%s at %s", t.Title, formatClock(due))
}

// formatClock возвращает время вида "3:05pm".
func formatClock(t time.Time) string {
	return strings.ToLower(t.Format("3:04PM"))
}

// shortInput обрезает сырой ввод до одной строки сводки.
func shortInput(s string) string {
	return shared.Truncate(strings.ReplaceAll(s, "\n", " "), 80)
}
