package briefing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared"
)

const (
	// sessionTimeout — бездействие, после которого разбор сбрасывается в idle.
	sessionTimeout = 30 * time.Minute

	// maxDebriefItems — сколько неясных входящих поднимается за один разбор.
	maxDebriefItems = 10
)

// Ответы машины разбора.
const (
	MsgNothingToDebrief = "Inbox is clear, nothing to debrief."
	MsgDebriefDone      = "That's all of them. Inbox is clear."
	MsgPickNumber       = "Reply with the number of an item to process."
	MsgDecisionPrompt   = `Reply "skip", "task: <text>", or "dismiss".`
	MsgSessionExpired   = "Debrief session expired. Say /debrief to start over."
)

type state int

const (
	stateIdle state = iota
	stateAwaitingSelection
	stateAwaitingDecision
)

// TaskCreator создаёт задачу из свободного текста (полный путь разбора C11).
type TaskCreator func(ctx context.Context, chatID, text string) (kb.Task, error)

type session struct {
	state    state
	items    []kb.InboxItem
	selected int
	touched  time.Time
}

// Sessions — машины разбора по чатам. Состояние каждого чата меняется
// только под общим мьютексом; внешние вызовы выполняются вне критической
// секции не требуются — объём работы на переход мал.
type Sessions struct {
	gw         kb.Gateway
	audit      *audit.Logger
	createTask TaskCreator
	now        func() time.Time

	mu    sync.Mutex
	chats map[string]*session
}

// NewSessions создаёт реестр сессий разбора.
func NewSessions(gw kb.Gateway, auditLog *audit.Logger, createTask TaskCreator, nowFn func() time.Time) *Sessions {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Sessions{
		gw:         gw,
		audit:      auditLog,
		createTask: createTask,
		now:        nowFn,
		chats:      make(map[string]*session),
	}
}

// Active сообщает, ведётся ли в чате разбор. Истёкшие сессии считаются
// завершёнными и удаляются.
func (s *Sessions) Active(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.chats[chatID]
	if !ok || sess.state == stateIdle {
		return false
	}
	if s.now().Sub(sess.touched) > sessionTimeout {
		delete(s.chats, chatID)
		return false
	}
	return true
}

// Start запускает разбор: поднимает неясные входящие и возвращает
// нумерованный список. Пустой список завершает разбор сразу.
func (s *Sessions) Start(ctx context.Context, chatID string) (string, error) {
	needsWork := true
	unprocessed := false
	items, err := s.gw.QueryInbox(ctx, kb.InboxQuery{
		NeedsClarification: &needsWork,
		Processed:          &unprocessed,
		Limit:              maxDebriefItems,
	})
	if err != nil {
		return "", errors.Wrap(err, "debrief: query inbox")
	}
	if len(items) == 0 {
		s.reset(chatID)
		return MsgNothingToDebrief, nil
	}

	s.mu.Lock()
	s.chats[chatID] = &session{
		state:   stateAwaitingSelection,
		items:   items,
		touched: s.now(),
	}
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%d items need clarification:\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, shortInput(item.RawInput))
	}
	b.WriteString("\n" + MsgPickNumber)
	return b.String(), nil
}

// Handle принимает очередную реплику чата и продвигает машину состояний.
// Возвращает ответ пользователю. Вызывается только когда Active(chatID).
func (s *Sessions) Handle(ctx context.Context, chatID, text string) (string, error) {
	s.mu.Lock()
	sess, ok := s.chats[chatID]
	if !ok || sess.state == stateIdle {
		s.mu.Unlock()
		return MsgSessionExpired, nil
	}
	if s.now().Sub(sess.touched) > sessionTimeout {
		delete(s.chats, chatID)
		s.mu.Unlock()
		return MsgSessionExpired, nil
	}
	sess.touched = s.now()
	st := sess.state
	s.mu.Unlock()

	switch st {
	case stateAwaitingSelection:
		return s.handleSelection(sess, chatID, text)
	case stateAwaitingDecision:
		return s.handleDecision(ctx, sess, chatID, text)
	default:
		return MsgSessionExpired, nil
	}
}

func (s *Sessions) handleSelection(sess *session, chatID, text string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	item, ok := shared.GetAt(sess.items, n-1)
	if err != nil || !ok {
		return fmt.Sprintf("Pick a number between 1 and %d.", len(sess.items)), nil
	}

	s.mu.Lock()
	sess.selected = n - 1
	sess.state = stateAwaitingDecision
	s.mu.Unlock()
	return fmt.Sprintf("%q\n%s", shortInput(item.RawInput), MsgDecisionPrompt), nil
}

func (s *Sessions) handleDecision(ctx context.Context, sess *session, chatID, text string) (string, error) {
	item := sess.items[sess.selected]
	input := strings.TrimSpace(text)
	lower := strings.ToLower(input)

	var reply string
	switch {
	case lower == "skip" || lower == "dismiss":
		if err := s.gw.MarkInboxProcessed(ctx, item.ID, ""); err != nil {
			return "", errors.Wrap(err, "debrief: mark processed")
		}
		s.logTransition(ctx, kb.ActionUpdate, item.ID, "debrief: "+lower)
		reply = "Okay, moving on."

	case strings.HasPrefix(lower, "task:"):
		taskText := strings.TrimSpace(input[len("task:"):])
		if taskText == "" {
			return `Give me the task text after "task:".`, nil
		}
		task, err := s.createTask(ctx, chatID, taskText)
		if err != nil {
			return "", errors.Wrap(err, "debrief: create task")
		}
		if err := s.gw.MarkInboxProcessed(ctx, item.ID, task.ID); err != nil {
			return "", errors.Wrap(err, "debrief: link task")
		}
		s.logTransition(ctx, kb.ActionCreate, task.ID, fmt.Sprintf("debrief: task %q from inbox %s", task.Title, item.ID))
		reply = fmt.Sprintf("Created %q.", task.Title)

	default:
		return MsgDecisionPrompt, nil
	}

	return reply + "\n" + s.advance(sess, chatID), nil
}

// advance убирает обработанный пункт и либо перечисляет остаток, либо
// завершает разбор.
func (s *Sessions) advance(sess *session, chatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.items = append(sess.items[:sess.selected], sess.items[sess.selected+1:]...)
	if len(sess.items) == 0 {
		delete(s.chats, chatID)
		return MsgDebriefDone
	}
	sess.state = stateAwaitingSelection
	sess.selected = 0

	var b strings.Builder
	fmt.Fprintf(&b, "%d left:\n", len(sess.items))
	for i, item := range sess.items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, shortInput(item.RawInput))
	}
	b.WriteString(MsgPickNumber)
	return b.String()
}

// logTransition пишет переход разбора в журнал; сбой только логируется.
func (s *Sessions) logTransition(ctx context.Context, action kb.ActionType, entityID, taken string) {
	_, err := s.audit.Log(ctx, audit.Entry{
		ActionType:  action,
		ActionTaken: taken,
		Entities:    []string{entityID},
	})
	if err != nil {
		logger.Warnf("debrief: audit %s: %v", taken, err)
	}
}

func (s *Sessions) reset(chatID string) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.mu.Unlock()
}
