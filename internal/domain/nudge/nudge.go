package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/timeutil"
)

// Type — тип напоминания.
type Type string

const (
	DueToday     Type = "due_today"
	DueTomorrow  Type = "due_tomorrow"
	Overdue      Type = "overdue"
	HighPriority Type = "high_priority"
)

// Дневные окна отправки по типам (локальные часы пользователя).
var windows = map[Type]timeutil.HourWindow{
	DueToday:     {From: 14, Until: 20},
	DueTomorrow:  {From: 18, Until: 21},
	Overdue:      {From: 9, Until: 20},
	HighPriority: {From: 14, Until: 20},
}

// excludedStatuses — задачи в этих статусах напоминаний не получают.
var excludedStatuses = []kb.TaskStatus{kb.TaskDone, kb.TaskCancelled, kb.TaskDeleted}

// Candidate — задача, претендующая на напоминание в текущем проходе.
type Candidate struct {
	Task        kb.Task
	Type        Type
	DaysOverdue int
}

// Message рендерит текст напоминания по типу.
func (c Candidate) Message() string {
	switch c.Type {
	case DueToday:
		return fmt.Sprintf("Don't forget: %s is due today", c.Task.Title)
	case DueTomorrow:
		return fmt.Sprintf("Heads up: %s is due tomorrow", c.Task.Title)
	case Overdue:
		return fmt.Sprintf("Overdue (%d days): %s", c.DaysOverdue, c.Task.Title)
	case HighPriority:
		return fmt.Sprintf("Urgent reminder: %s", c.Task.Title)
	default:
		return c.Task.Title
	}
}

// Engine сканирует задачи и рассылает оконные, дедуплицированные напоминания.
type Engine struct {
	gw     kb.Gateway
	ledger *Ledger
	sender envelope.Sender
	chatID string
	loc    *time.Location
	now    func() time.Time
}

// NewEngine создаёт движок напоминаний. chatID — чат владельца для
// проактивных отправок; loc — зона пользователя.
func NewEngine(gw kb.Gateway, ledger *Ledger, sender envelope.Sender, chatID string, loc *time.Location, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{gw: gw, ledger: ledger, sender: sender, chatID: chatID, loc: loc, now: nowFn}
}

// Scan собирает кандидатов трёх выборок: на сегодня, на завтра и просроченные.
// DUE_TODAY с приоритетом urgent/high повышается до HIGH_PRIORITY.
func (e *Engine) Scan(ctx context.Context) ([]Candidate, error) {
	now := e.now().In(e.loc)
	todayStart := timeutil.StartOfDay(now)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	dayAfterStart := todayStart.AddDate(0, 0, 2)

	var out []Candidate

	today, err := e.gw.QueryTasks(ctx, kb.TaskQuery{
		DueFrom: &todayStart, DueUntil: &tomorrowStart, ExcludeStatuses: excludedStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "nudge: query due today")
	}
	for _, task := range today {
		t := DueToday
		if task.Priority == kb.PriorityUrgent || task.Priority == kb.PriorityHigh {
			t = HighPriority
		}
		out = append(out, Candidate{Task: task, Type: t})
	}

	tomorrow, err := e.gw.QueryTasks(ctx, kb.TaskQuery{
		DueFrom: &tomorrowStart, DueUntil: &dayAfterStart, ExcludeStatuses: excludedStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "nudge: query due tomorrow")
	}
	for _, task := range tomorrow {
		out = append(out, Candidate{Task: task, Type: DueTomorrow})
	}

	overdue, err := e.gw.QueryTasks(ctx, kb.TaskQuery{
		DueUntil: &todayStart, ExcludeStatuses: excludedStatuses,
	})
	if err != nil {
		return nil, errors.Wrap(err, "nudge: query overdue")
	}
	for _, task := range overdue {
		days := 0
		if task.Due != nil {
			days = int(todayStart.Sub(timeutil.StartOfDay(task.Due.In(e.loc))).Hours() / 24)
		}
		out = append(out, Candidate{Task: task, Type: Overdue, DaysOverdue: days})
	}

	return out, nil
}

// Run выполняет один проход: скан, фильтр по окну и журналу, отправка, отметка.
// Возвращает число отправленных напоминаний.
func (e *Engine) Run(ctx context.Context) (int, error) {
	candidates, err := e.Scan(ctx)
	if err != nil {
		return 0, err
	}

	now := e.now().In(e.loc)
	sent := 0

	for _, c := range candidates {
		window, ok := windows[c.Type]
		if !ok || !window.Contains(now) {
			continue
		}

		key := Key(c.Task.ID, c.Type, now)
		if e.ledger.Sent(key) {
			continue
		}

		if err := e.sender.Send(ctx, e.chatID, c.Message()); err != nil {
			logger.Warnf("nudge: send %s: %v", key, err)
			continue
		}
		e.ledger.MarkSent(key)
		sent++
	}

	if sent > 0 {
		logger.Infof("nudge: sent %d reminders", sent)
	}
	return sent, nil
}

// Loop тикает раз в минуту до отмены контекста, запуская проходы Run.
// Журнал отметок флашится при выходе.
func (e *Engine) Loop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer e.ledger.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Run(ctx); err != nil {
				logger.Warnf("nudge: pass failed: %v", err)
			}
		}
	}
}
