package nudge_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/nudge"
)

// Опорный момент: среда 2026-03-04, 15:00 UTC — внутри всех дневных окон.
var baseNow = time.Date(2026, time.March, 4, 15, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, chatID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

type fixture struct {
	engine *nudge.Engine
	fake   *kbtest.Fake
	sender *recordingSender
	ledger *nudge.Ledger

	offset *time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var offset time.Duration
	now := func() time.Time { return baseNow.Add(offset) }

	fake := kbtest.NewFake()
	fake.Now = now
	sender := &recordingSender{}
	ledger := nudge.NewLedger(filepath.Join(t.TempDir(), "nudges.json"), now)
	engine := nudge.NewEngine(fake, ledger, sender, "42", time.UTC, now)
	return &fixture{engine: engine, fake: fake, sender: sender, ledger: ledger, offset: &offset}
}

func (f *fixture) addTask(t *testing.T, title string, due time.Time, priority kb.TaskPriority, status kb.TaskStatus) kb.Task {
	t.Helper()
	task, err := f.fake.CreateTask(context.Background(), kb.Task{
		Title:    title,
		Status:   status,
		Priority: priority,
		Due:      &due,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestScanClassifiesCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.addTask(t, "due today", baseNow.Add(2*time.Hour), kb.PriorityMedium, kb.TaskTodo)
	f.addTask(t, "urgent today", baseNow.Add(3*time.Hour), kb.PriorityUrgent, kb.TaskTodo)
	f.addTask(t, "due tomorrow", baseNow.AddDate(0, 0, 1), kb.PriorityMedium, kb.TaskTodo)
	f.addTask(t, "overdue", baseNow.AddDate(0, 0, -3), kb.PriorityMedium, kb.TaskTodo)
	f.addTask(t, "already done", baseNow.Add(time.Hour), kb.PriorityMedium, kb.TaskDone)

	candidates, err := f.engine.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	byTitle := make(map[string]nudge.Candidate, len(candidates))
	for _, c := range candidates {
		byTitle[c.Task.Title] = c
	}
	if len(candidates) != 4 {
		t.Fatalf("кандидатов = %d (%v), want 4", len(candidates), byTitle)
	}
	if byTitle["due today"].Type != nudge.DueToday {
		t.Fatalf("due today = %s", byTitle["due today"].Type)
	}
	if byTitle["urgent today"].Type != nudge.HighPriority {
		t.Fatalf("urgent today = %s", byTitle["urgent today"].Type)
	}
	if byTitle["due tomorrow"].Type != nudge.DueTomorrow {
		t.Fatalf("due tomorrow = %s", byTitle["due tomorrow"].Type)
	}
	overdue := byTitle["overdue"]
	if overdue.Type != nudge.Overdue || overdue.DaysOverdue != 3 {
		t.Fatalf("overdue = %+v", overdue)
	}
	if _, ok := byTitle["already done"]; ok {
		t.Fatal("завершённая задача попала в кандидаты")
	}
}

func TestRunSendsOncePerDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addTask(t, "due today", baseNow.Add(2*time.Hour), kb.PriorityMedium, kb.TaskTodo)

	sent, err := f.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if msgs := f.sender.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "due today") {
		t.Fatalf("messages = %v", msgs)
	}

	// Повторный проход в тот же день молчит.
	sent, err = f.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run #2: %v", err)
	}
	if sent != 0 {
		t.Fatalf("повторный sent = %d, want 0", sent)
	}
}

// Вне дневного окна типа напоминание не уходит.
func TestRunRespectsWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.addTask(t, "due today", baseNow.Add(2*time.Hour), kb.PriorityMedium, kb.TaskTodo)

	// 08:00 — раньше окна DUE_TODAY (14–20) и даже окна OVERDUE (9–20).
	*f.offset = -7 * time.Hour

	sent, err := f.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0 вне окна", sent)
	}
}

func TestLedgerSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nudges.json")
	now := func() time.Time { return baseNow }

	ledger := nudge.NewLedger(path, now)
	key := nudge.Key("task-1", nudge.DueToday, baseNow)
	ledger.MarkSent(key)
	ledger.Flush()

	reloaded := nudge.NewLedger(path, now)
	if !reloaded.Sent(key) {
		t.Fatal("отметка не пережила перезапуск")
	}
	if reloaded.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reloaded.Len())
	}
}

func TestLedgerExpiresOldMarks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nudges.json")

	past := func() time.Time { return baseNow.AddDate(0, 0, -10) }
	old := nudge.NewLedger(path, past)
	key := nudge.Key("task-1", nudge.DueToday, past())
	old.MarkSent(key)
	old.Flush()

	fresh := nudge.NewLedger(path, func() time.Time { return baseNow })
	if fresh.Sent(key) {
		t.Fatal("устаревшая отметка пережила загрузку")
	}
}

func TestKeyFormat(t *testing.T) {
	t.Parallel()

	got := nudge.Key("task-1", nudge.DueTomorrow, baseNow)
	if got != "task-1:due_tomorrow:2026-03-04" {
		t.Fatalf("Key = %q", got)
	}
}
