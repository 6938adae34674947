package softdelete_test

import (
	"context"
	"testing"
	"time"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/recent"
	"second-brain/internal/domain/softdelete"
	"second-brain/internal/shared/fault"
)

var baseNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc  *softdelete.Service
	fake *kbtest.Fake
	book *recent.DeletedBook

	offset *time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var offset time.Duration
	now := func() time.Time { return baseNow.Add(offset) }

	fake := kbtest.NewFake()
	fake.Now = now
	book := recent.NewDeletedBook(now)
	svc := softdelete.New(fake, audit.New(fake, now), book, now)
	return &fixture{svc: svc, fake: fake, book: book, offset: &offset}
}

func (f *fixture) createTask(t *testing.T, title string) kb.Task {
	t.Helper()
	task, err := f.fake.CreateTask(context.Background(), kb.Task{Title: title, Status: kb.TaskTodo})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestDeleteHidesAndTracksUndo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "buy milk")

	res, err := f.svc.Delete(ctx, "42", softdelete.Target{
		Entity: kb.EntityTask, ID: task.ID, Title: task.Title, MessageID: "7",
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !res.OK || !res.CanUndo {
		t.Fatalf("Result = %+v", res)
	}
	if res.Message != `Done. Removed "buy milk". Say "undo" to restore.` {
		t.Fatalf("Message = %q", res.Message)
	}

	// Запись скрыта из выборок по умолчанию, но не стёрта.
	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("удалённая запись видна: %+v", tasks)
	}
	all, err := f.fake.QueryTasks(ctx, kb.TaskQuery{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(all) != 1 || all[0].DeletedAt == nil {
		t.Fatalf("запись стёрта: %+v", all)
	}

	if pending := f.svc.PendingDeletes("42"); len(pending) != 1 || pending[0].EntityID != task.ID {
		t.Fatalf("PendingDeletes = %+v", pending)
	}
}

func TestUndoLastRestores(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "buy milk")

	if _, err := f.svc.Delete(ctx, "42", softdelete.Target{Entity: kb.EntityTask, ID: task.ID, Title: task.Title}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := f.svc.UndoLast(ctx, "42")
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if !res.OK || res.Message != `Restored "buy milk".` {
		t.Fatalf("Result = %+v", res)
	}

	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].DeletedAt != nil {
		t.Fatalf("запись не восстановлена: %+v", tasks)
	}
}

func TestUndoLastNothingTracked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.svc.UndoLast(context.Background(), "42")
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if res.OK || res.Message != softdelete.MsgNothingToUndo {
		t.Fatalf("Result = %+v", res)
	}
}

func TestUndoLastExpiredWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "buy milk")

	if _, err := f.svc.Delete(ctx, "42", softdelete.Target{Entity: kb.EntityTask, ID: task.ID, Title: task.Title}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	*f.offset = recent.DeletedTTL + time.Hour

	res, err := f.svc.UndoLast(ctx, "42")
	if err != nil {
		t.Fatalf("UndoLast: %v", err)
	}
	if res.OK || res.Message != softdelete.MsgUndoExpired {
		t.Fatalf("Result = %+v", res)
	}
}

// Сбой шлюза возвращает запись в кольцо: повторный undo возможен.
func TestUndoLastGatewayFailureKeepsTombstone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "buy milk")

	if _, err := f.svc.Delete(ctx, "42", softdelete.Target{Entity: kb.EntityTask, ID: task.ID, Title: task.Title}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	f.fake.FailWith(fault.New(fault.KindTransient, "storage down"))
	if _, err := f.svc.UndoLast(ctx, "42"); err == nil {
		t.Fatal("UndoLast при сбое = nil, want error")
	}

	f.fake.Heal()
	res, err := f.svc.UndoLast(ctx, "42")
	if err != nil {
		t.Fatalf("повторный UndoLast: %v", err)
	}
	if !res.OK {
		t.Fatalf("Result = %+v", res)
	}
}

// Удаление несуществующей записи идемпотентно.
func TestDeleteMissingRecordIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.svc.Delete(context.Background(), "42", softdelete.Target{
		Entity: kb.EntityTask, ID: "task-ghost", Title: "ghost",
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !res.OK {
		t.Fatalf("Result = %+v", res)
	}
}

func TestRestoreByIDWorksForExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, "buy milk")

	if _, err := f.svc.Delete(ctx, "42", softdelete.Target{Entity: kb.EntityTask, ID: task.ID, Title: task.Title}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	*f.offset = recent.DeletedTTL + time.Hour

	res, err := f.svc.RestoreByID(ctx, "42", kb.EntityTask, task.ID, task.Title)
	if err != nil {
		t.Fatalf("RestoreByID: %v", err)
	}
	if !res.OK {
		t.Fatalf("Result = %+v", res)
	}

	tasks, err := f.fake.QueryTasks(ctx, kb.TaskQuery{})
	if err != nil {
		t.Fatalf("QueryTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("запись не восстановлена: %+v", tasks)
	}
}
