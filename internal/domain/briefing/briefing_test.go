package briefing_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/briefing"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
)

// Опорный момент: среда 2026-03-04, 07:30 UTC.
var baseNow = time.Date(2026, time.March, 4, 7, 30, 0, 0, time.UTC)

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

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func newGenerator(t *testing.T) (*briefing.Generator, *kbtest.Fake) {
	t.Helper()

	now := func() time.Time { return baseNow }
	fake := kbtest.NewFake()
	fake.Now = now
	gen := briefing.NewGenerator(fake, audit.New(fake, now), time.UTC, now)
	return gen, fake
}

func addTask(t *testing.T, fake *kbtest.Fake, title string, due time.Time) {
	t.Helper()
	if _, err := fake.CreateTask(context.Background(), kb.Task{
		Title:    title,
		Status:   kb.TaskTodo,
		Priority: kb.PriorityMedium,
		Due:      &due,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func TestComposeSections(t *testing.T) {
	t.Parallel()

	gen, fake := newGenerator(t)
	ctx := context.Background()

	addTask(t, fake, "standup", baseNow.Add(2*time.Hour))
	addTask(t, fake, "send invoice", baseNow.AddDate(0, 0, -2))
	if _, err := fake.CreateInboxItem(ctx, kb.InboxItem{
		RawInput:           "that thing John said",
		NeedsClarification: true,
	}); err != nil {
		t.Fatalf("CreateInboxItem: %v", err)
	}

	text, count, err := gen.Compose(ctx)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	for _, want := range []string{
		"Good morning! Briefing for Wednesday, Mar 4",
		"DUE TODAY:",
		"standup at 9:30am",
		"OVERDUE:",
		"send invoice (2 days)",
		"NEEDS CLARIFICATION:",
		"that thing John said",
		"/debrief",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("в сводке нет %q:\n%s", want, text)
		}
	}
}

func TestComposeEmptyDay(t *testing.T) {
	t.Parallel()

	gen, _ := newGenerator(t)
	text, count, err := gen.Compose(context.Background())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if count != 0 || !strings.Contains(text, "Nothing due today") {
		t.Fatalf("Compose = (%q, %d)", text, count)
	}
}

// Повторная отправка за те же сутки поглощается идемпотентным ключом.
func TestSendOncePerDay(t *testing.T) {
	t.Parallel()

	gen, _ := newGenerator(t)
	sender := &recordingSender{}
	ctx := context.Background()

	if err := gen.Send(ctx, sender, "42"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := gen.Send(ctx, sender, "42"); err != nil {
		t.Fatalf("Send #2: %v", err)
	}
	if sender.count() != 1 {
		t.Fatalf("отправлено %d сводок, want 1", sender.count())
	}
}
