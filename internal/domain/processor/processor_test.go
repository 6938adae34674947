package processor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/corrections"
	"second-brain/internal/domain/envelope"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/link"
	"second-brain/internal/domain/patterns"
	"second-brain/internal/domain/processor"
	"second-brain/internal/domain/queue"
	"second-brain/internal/domain/recent"
	"second-brain/internal/domain/resolve"
	"second-brain/internal/domain/softdelete"
	"second-brain/internal/domain/timeparse"
	"second-brain/internal/infra/concurrency"
	"second-brain/internal/shared/fault"
)

// Среда — 4 марта 2026, утро. Все ожидания по срокам рассчитаны от неё.
var testNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	proc  *processor.Processor
	fake  *kbtest.Fake
	queue *queue.Store
	book  *recent.Book
}

func newFixture(t *testing.T, tweaks ...func(*processor.Deps, *processor.Options)) *fixture {
	t.Helper()

	now := func() time.Time { return testNow }
	fake := kbtest.NewFake()
	fake.Now = now

	parser, err := timeparse.New("UTC", now)
	if err != nil {
		t.Fatalf("timeparse.New: %v", err)
	}

	log := audit.New(fake, now)
	book := recent.NewBook(now)
	deletedBook := recent.NewDeletedBook(now)
	deleter := softdelete.New(fake, log, deletedBook, now)
	detector := patterns.NewDetector(fake, now)
	linker := link.New(resolve.NewPeople(fake), resolve.NewPlaces(fake, nil), resolve.NewProjects(fake))
	store := queue.NewStore(t.TempDir()+"/pending.jsonl", now)

	deps := processor.Deps{
		Gateway:     fake,
		Audit:       log,
		Parser:      parser,
		Applicator:  patterns.NewApplicator(fake, now),
		Linker:      linker,
		Corrections: corrections.New(fake, log, book, deleter, detector, now),
		Deleter:     deleter,
		Book:        book,
		Queue:       store,
		Location:    time.UTC,
		Now:         now,
	}
	opts := processor.Options{}
	for _, tweak := range tweaks {
		tweak(&deps, &opts)
	}

	return &fixture{proc: processor.New(deps, opts), fake: fake, queue: store, book: book}
}

func env(msgID, text string) envelope.Envelope {
	return envelope.Envelope{
		Transport:  envelope.TransportTelegram,
		ChatID:     "42",
		MessageID:  msgID,
		Text:       text,
		ReceivedAt: testNow,
	}
}

func TestProcessCreatesTaskWithDue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.fake.CreatePerson(ctx, kb.Person{Name: "Sarah"}); err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}

	reply, err := f.proc.Process(ctx, env("1", "call Sarah tomorrow at 2pm"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "Got it. call Sarah tomorrow at 2pm, Thursday at 2:00pm with Sarah."
	if reply != want {
		t.Fatalf("reply = %q, want %q", reply, want)
	}

	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("задач = %d", len(tasks))
	}
	task := tasks[0]
	wantDue := time.Date(2026, time.March, 5, 14, 0, 0, 0, time.UTC)
	if task.Due == nil || !task.Due.Equal(wantDue) {
		t.Fatalf("Due = %v, want %v", task.Due, wantDue)
	}
	if task.Source != kb.SourceTelegramText || task.CreatedBy != kb.CreatedByAI {
		t.Fatalf("Source/CreatedBy = %s/%s", task.Source, task.CreatedBy)
	}
	// Дата, императив и уверенная связь дают потолок уверенности.
	if task.Confidence != 100 {
		t.Fatalf("Confidence = %d", task.Confidence)
	}
	if len(task.PeopleIDs) != 1 {
		t.Fatalf("PeopleIDs = %v", task.PeopleIDs)
	}

	last, ok := f.book.Last("42")
	if !ok || last.EntityID != task.ID {
		t.Fatalf("Last = (%+v, %v)", last, ok)
	}
}

func TestProcessDuplicateMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.proc.Process(ctx, env("7", "buy milk tomorrow")); err != nil {
		t.Fatalf("Process #1: %v", err)
	}
	reply, err := f.proc.Process(ctx, env("7", "buy milk tomorrow"))
	if err != nil {
		t.Fatalf("Process #2: %v", err)
	}
	if reply != processor.MsgDuplicate {
		t.Fatalf("reply = %q", reply)
	}
	if titles := f.fake.CreatedTaskTitles(); len(titles) != 1 {
		t.Fatalf("создано задач = %d", len(titles))
	}
}

func TestProcessRoutesCorrection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.proc.Process(ctx, env("1", "buy milk tomorrow")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	reply, err := f.proc.Process(ctx, env("2", "change buy milk tomorrow to buy oat milk"))
	if err != nil {
		t.Fatalf("Process correction: %v", err)
	}
	want := `Fixed. Changed "buy milk tomorrow" to "buy oat milk".`
	if reply != want {
		t.Fatalf("reply = %q", reply)
	}

	last, _ := f.book.Last("42")
	got, err := f.fake.GetTask(ctx, last.EntityID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "buy oat milk" {
		t.Fatalf("Title = %q", got.Title)
	}
}

func TestProcessUndoAfterCreateDeletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.proc.Process(ctx, env("1", "buy milk tomorrow")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	reply, err := f.proc.Process(ctx, env("2", "undo"))
	if err != nil {
		t.Fatalf("Process undo: %v", err)
	}
	if !strings.Contains(reply, `Removed "buy milk tomorrow"`) {
		t.Fatalf("reply = %q", reply)
	}
	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("удалённая задача видна: %+v", tasks)
	}
}

// Повторное «undo» после удаления восстанавливает запись.
func TestProcessUndoAfterDeleteRestores(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.proc.Process(ctx, env("1", "buy milk tomorrow")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := f.proc.Process(ctx, env("2", "delete that")); err != nil {
		t.Fatalf("Process delete: %v", err)
	}
	reply, err := f.proc.Process(ctx, env("3", "undo"))
	if err != nil {
		t.Fatalf("Process undo: %v", err)
	}
	if reply != softdelete.RestoreMessage("buy milk tomorrow") {
		t.Fatalf("reply = %q", reply)
	}
	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("восстановленная задача не видна: %+v", tasks)
	}
}

func TestProcessVagueInputGoesToInbox(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.proc.Process(ctx, env("1", "that thing about the conference"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(reply, "/debrief") {
		t.Fatalf("reply = %q", reply)
	}

	processed := false
	items, err := f.fake.QueryInbox(ctx, kb.InboxQuery{Processed: &processed})
	if err != nil {
		t.Fatalf("QueryInbox: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("входящих = %d", len(items))
	}
	if !items[0].NeedsClarification || items[0].RawInput != "that thing about the conference" {
		t.Fatalf("item = %+v", items[0])
	}
	if titles := f.fake.CreatedTaskTitles(); len(titles) != 0 {
		t.Fatalf("вместо входящих создана задача: %v", titles)
	}
}

func TestProcessOfflineFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.fake.FailWith(fault.New(fault.KindTransient, "kb down"))

	reply, err := f.proc.Process(ctx, env("1", "buy milk tomorrow"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != queue.OfflineReply {
		t.Fatalf("reply = %q", reply)
	}
	if got := f.queue.Len(); got != 1 {
		t.Fatalf("Len = %d", got)
	}

	// После восстановления очередь доигрывает захват во входящие.
	f.fake.Heal()
	res, err := f.queue.Drain(ctx, f.fake)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Successful != 1 {
		t.Fatalf("Drain = %+v", res)
	}
}

func TestProcessEmptyText(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.proc.Process(context.Background(), env("1", "   "))
	if err != nil || reply != "" {
		t.Fatalf("Process = (%q, %v)", reply, err)
	}
}

func TestRenderToday(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	due := time.Date(2026, time.March, 4, 9, 30, 0, 0, time.UTC)
	midnight := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)
	done := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	seed := []kb.Task{
		{Title: "standup", Status: kb.TaskTodo, Due: &due},
		{Title: "ship report", Status: kb.TaskTodo, Due: &midnight},
		{Title: "old demo", Status: kb.TaskDone, Due: &done},
	}
	for _, task := range seed {
		if _, err := f.fake.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	reply, err := f.proc.Process(ctx, env("1", "/today"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.HasPrefix(reply, "Due today:") {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(reply, "- standup at 9:30am") {
		t.Fatalf("reply = %q", reply)
	}
	// Срок-полночь выводится без времени, выполненное не попадает вовсе.
	if !strings.Contains(reply, "- ship report\n") && !strings.HasSuffix(reply, "- ship report") {
		t.Fatalf("reply = %q", reply)
	}
	if strings.Contains(reply, "old demo") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestRenderTodayEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.proc.Process(context.Background(), env("1", "/today"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if reply != processor.MsgNothingDue {
		t.Fatalf("reply = %q", reply)
	}
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSender) Send(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Быстрый повтор доставки гасится дедупликатором до обращения к базе знаний.
func TestHandleFastDuplicate(t *testing.T) {
	t.Parallel()

	now := func() time.Time { return testNow }
	fake := kbtest.NewFake()
	fake.Now = now

	parser, err := timeparse.New("UTC", now)
	if err != nil {
		t.Fatalf("timeparse.New: %v", err)
	}
	log := audit.New(fake, now)
	book := recent.NewBook(now)
	deleter := softdelete.New(fake, log, recent.NewDeletedBook(now), now)
	linker := link.New(resolve.NewPeople(fake), resolve.NewPlaces(fake, nil), resolve.NewProjects(fake))

	proc := processor.New(processor.Deps{
		Gateway:     fake,
		Audit:       log,
		Parser:      parser,
		Applicator:  patterns.NewApplicator(fake, now),
		Linker:      linker,
		Corrections: corrections.New(fake, log, book, deleter, patterns.NewDetector(fake, now), now),
		Deleter:     deleter,
		Book:        book,
		Queue:       queue.NewStore(t.TempDir()+"/pending.jsonl", now),
		Dedup:       concurrency.NewDeduplicator(time.Minute),
		Location:    time.UTC,
		Now:         now,
	}, processor.Options{})

	sender := &recordingSender{}
	proc.RegisterSender(envelope.TransportTelegram, sender)

	ctx := context.Background()
	proc.Handle(ctx, env("5", "buy milk tomorrow"))
	proc.Handle(ctx, env("5", "buy milk tomorrow"))

	if got := sender.count(); got != 1 {
		t.Fatalf("отправлено ответов = %d", got)
	}
	if titles := fake.CreatedTaskTitles(); len(titles) != 1 {
		t.Fatalf("создано задач = %d", len(titles))
	}
}
