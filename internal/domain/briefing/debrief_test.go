package briefing_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/briefing"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
)

type debriefFixture struct {
	sessions *briefing.Sessions
	fake     *kbtest.Fake

	offset *time.Duration
}

func newDebrief(t *testing.T) *debriefFixture {
	t.Helper()

	var offset time.Duration
	now := func() time.Time { return baseNow.Add(offset) }

	fake := kbtest.NewFake()
	fake.Now = now

	createTask := func(ctx context.Context, chatID, text string) (kb.Task, error) {
		return fake.CreateTask(ctx, kb.Task{Title: text, Status: kb.TaskTodo, CreatedBy: kb.CreatedByAI})
	}
	sessions := briefing.NewSessions(fake, audit.New(fake, now), createTask, now)
	return &debriefFixture{sessions: sessions, fake: fake, offset: &offset}
}

func (f *debriefFixture) addItem(t *testing.T, raw string) kb.InboxItem {
	t.Helper()
	item, err := f.fake.CreateInboxItem(context.Background(), kb.InboxItem{
		RawInput:           raw,
		NeedsClarification: true,
	})
	if err != nil {
		t.Fatalf("CreateInboxItem: %v", err)
	}
	return item
}

func TestDebriefEmptyInbox(t *testing.T) {
	t.Parallel()

	f := newDebrief(t)
	reply, err := f.sessions.Start(context.Background(), "42")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if reply != briefing.MsgNothingToDebrief {
		t.Fatalf("reply = %q", reply)
	}
	if f.sessions.Active("42") {
		t.Fatal("пустой разбор оставил активную сессию")
	}
}

func TestDebriefFullWalkthrough(t *testing.T) {
	t.Parallel()

	f := newDebrief(t)
	ctx := context.Background()
	first := f.addItem(t, "that thing John said")
	second := f.addItem(t, "maybe dentist")

	reply, err := f.sessions.Start(ctx, "42")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(reply, "2 items need clarification") {
		t.Fatalf("reply = %q", reply)
	}
	if !f.sessions.Active("42") {
		t.Fatal("сессия не активна после Start")
	}

	// Выбор первого пункта.
	reply, err = f.sessions.Handle(ctx, "42", "1")
	if err != nil {
		t.Fatalf("Handle(1): %v", err)
	}
	if !strings.Contains(reply, "that thing John said") || !strings.Contains(reply, briefing.MsgDecisionPrompt) {
		t.Fatalf("reply = %q", reply)
	}

	// Превращение в задачу.
	reply, err = f.sessions.Handle(ctx, "42", "task: ask John about the contract")
	if err != nil {
		t.Fatalf("Handle(task): %v", err)
	}
	if !strings.Contains(reply, `Created "ask John about the contract"`) {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(reply, "1 left") {
		t.Fatalf("reply = %q", reply)
	}

	// Первый пункт обработан и связан с задачей.
	processed := true
	items, err := f.fake.QueryInbox(ctx, kb.InboxQuery{Processed: &processed})
	if err != nil {
		t.Fatalf("QueryInbox: %v", err)
	}
	if len(items) != 1 || items[0].ID != first.ID || items[0].LinkedTaskID == "" {
		t.Fatalf("processed = %+v", items)
	}

	// Отклонение второго пункта завершает разбор.
	if _, err = f.sessions.Handle(ctx, "42", "1"); err != nil {
		t.Fatalf("Handle(1): %v", err)
	}
	reply, err = f.sessions.Handle(ctx, "42", "dismiss")
	if err != nil {
		t.Fatalf("Handle(dismiss): %v", err)
	}
	if !strings.Contains(reply, briefing.MsgDebriefDone) {
		t.Fatalf("reply = %q", reply)
	}
	if f.sessions.Active("42") {
		t.Fatal("сессия активна после завершения")
	}

	items, err = f.fake.QueryInbox(ctx, kb.InboxQuery{Processed: &processed})
	if err != nil {
		t.Fatalf("QueryInbox: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("обработано %d пунктов, want 2", len(items))
	}
	_ = second
}

func TestDebriefRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newDebrief(t)
	ctx := context.Background()
	f.addItem(t, "something vague")

	if _, err := f.sessions.Start(ctx, "42"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	reply, err := f.sessions.Handle(ctx, "42", "seven")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, "Pick a number between 1 and 1") {
		t.Fatalf("reply = %q", reply)
	}

	if _, err := f.sessions.Handle(ctx, "42", "1"); err != nil {
		t.Fatalf("Handle(1): %v", err)
	}
	reply, err = f.sessions.Handle(ctx, "42", "what?")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != briefing.MsgDecisionPrompt {
		t.Fatalf("reply = %q", reply)
	}

	reply, err = f.sessions.Handle(ctx, "42", "task:")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(reply, `after "task:"`) {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDebriefSessionExpires(t *testing.T) {
	t.Parallel()

	f := newDebrief(t)
	ctx := context.Background()
	f.addItem(t, "something vague")

	if _, err := f.sessions.Start(ctx, "42"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	*f.offset = 31 * time.Minute
	if f.sessions.Active("42") {
		t.Fatal("истёкшая сессия считается активной")
	}
	reply, err := f.sessions.Handle(ctx, "42", "1")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != briefing.MsgSessionExpired {
		t.Fatalf("reply = %q", reply)
	}
}
