package commands_test

import (
	"context"
	"testing"
	"time"

	"second-brain/internal/domain/commands"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/listener"
	"second-brain/internal/domain/queue"
	"second-brain/internal/domain/recent"
	"second-brain/internal/shared/fault"
)

var testNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func TestNilDepsReturnConfigErrors(t *testing.T) {
	t.Parallel()

	exec := commands.NewExecutor(commands.Deps{})
	ctx := context.Background()

	calls := []struct {
		name string
		run  func() error
	}{
		{"DrainQueue", func() error { _, err := exec.DrainQueue(ctx); return err }},
		{"RunNudge", func() error { _, err := exec.RunNudge(ctx); return err }},
		{"RunBriefing", func() error { _, err := exec.RunBriefing(ctx); return err }},
		{"Patterns", func() error { _, err := exec.Patterns(ctx); return err }},
		{"Recent", func() error { _, err := exec.Recent(ctx, "42"); return err }},
		{"Queue", func() error { _, err := exec.Queue(ctx); return err }},
	}
	for _, call := range calls {
		err := call.run()
		if err == nil {
			t.Fatalf("%s: ожидалась ошибка конфигурации", call.name)
		}
		if fault.KindOf(err) != fault.KindConfig {
			t.Fatalf("%s: kind = %v", call.name, fault.KindOf(err))
		}
	}
}

func TestStatusWithoutDeps(t *testing.T) {
	t.Parallel()

	res, err := commands.NewExecutor(commands.Deps{}).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.KBReachable || res.QueueLength != 0 || len(res.Nodes) != 0 {
		t.Fatalf("res = %+v", res)
	}
	if res.Assistant != listener.StateNotAvailable {
		t.Fatalf("Assistant = %q, хотим not_available", res.Assistant)
	}
}

func TestStatusReportsKBAndQueue(t *testing.T) {
	t.Parallel()

	store := queue.NewStore(t.TempDir()+"/pending.jsonl", func() time.Time { return testNow })
	if err := store.EnqueueInboxItem("telegram:42:1", "offline note", kb.SourceTelegramText, "42", "1", 0, true); err != nil {
		t.Fatalf("EnqueueInboxItem: %v", err)
	}

	exec := commands.NewExecutor(commands.Deps{
		Queue:  store,
		KBPing: func(context.Context) error { return nil },
	})
	res, err := exec.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !res.KBReachable || res.QueueLength != 1 {
		t.Fatalf("res = %+v", res)
	}

	// Отказ проверки попадает в отчёт, а не в ошибку команды.
	exec = commands.NewExecutor(commands.Deps{
		KBPing: func(context.Context) error { return fault.New(fault.KindTransient, "kb down") },
	})
	res, err = exec.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.KBReachable || res.KBError == "" {
		t.Fatalf("res = %+v", res)
	}
}

func TestDrainQueue(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	fake.Now = func() time.Time { return testNow }
	store := queue.NewStore(t.TempDir()+"/pending.jsonl", func() time.Time { return testNow })
	if err := store.EnqueueInboxItem("telegram:42:1", "offline note", kb.SourceTelegramText, "42", "1", 0, true); err != nil {
		t.Fatalf("EnqueueInboxItem: %v", err)
	}

	exec := commands.NewExecutor(commands.Deps{Gateway: fake, Queue: store})
	res, err := exec.DrainQueue(context.Background())
	if err != nil {
		t.Fatalf("DrainQueue: %v", err)
	}
	if res.Successful != 1 || res.Remaining != 0 || !res.Clean() {
		t.Fatalf("res = %+v", res)
	}
}

// blockingGateway задерживает дренаж, пока тест не откроет release.
type blockingGateway struct {
	*kbtest.Fake
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGateway) CheckDedupe(ctx context.Context, key string) (string, bool, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Fake.CheckDedupe(ctx, key)
}

func TestDrainQueueRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	gw := &blockingGateway{
		Fake:    kbtest.NewFake(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := queue.NewStore(t.TempDir()+"/pending.jsonl", func() time.Time { return testNow })
	if err := store.EnqueueInboxItem("telegram:42:1", "offline note", kb.SourceTelegramText, "42", "1", 0, true); err != nil {
		t.Fatalf("EnqueueInboxItem: %v", err)
	}
	exec := commands.NewExecutor(commands.Deps{Gateway: gw, Queue: store})

	done := make(chan error, 1)
	go func() {
		_, err := exec.DrainQueue(context.Background())
		done <- err
	}()
	<-gw.entered

	// Пока первый дренаж висит на шлюзе, второй отклоняется.
	if _, err := exec.DrainQueue(context.Background()); err == nil || !fault.IsTransient(err) {
		t.Fatalf("параллельный дренаж: err = %v", err)
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("DrainQueue: %v", err)
	}

	// После завершения дренаж доступен снова.
	if _, err := exec.DrainQueue(context.Background()); err != nil {
		t.Fatalf("повторный дренаж: %v", err)
	}
}

func TestRecent(t *testing.T) {
	t.Parallel()

	book := recent.NewBook(func() time.Time { return testNow })
	book.Track(recent.Action{
		Type:     kb.ActionCreate,
		Entity:   kb.EntityTask,
		EntityID: "task-1",
		Title:    "buy milk",
		ChatID:   "42",
	})
	exec := commands.NewExecutor(commands.Deps{Recent: book})

	res, err := exec.Recent(context.Background(), "42")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Title != "buy milk" {
		t.Fatalf("res = %+v", res)
	}

	if _, err := exec.Recent(context.Background(), ""); fault.KindOf(err) != fault.KindValidation {
		t.Fatalf("пустой chatID: err = %v", err)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	res, err := commands.NewExecutor(commands.Deps{}).Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if res.Name != "second-brain" || res.Version == "" {
		t.Fatalf("res = %+v", res)
	}
}
