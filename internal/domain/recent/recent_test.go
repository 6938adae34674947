package recent_test

import (
	"fmt"
	"testing"
	"time"

	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/recent"
)

var baseNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

// shiftClock — подменяемый источник времени: now = baseNow + *offset.
func shiftClock() (func() time.Time, *time.Duration) {
	var offset time.Duration
	return func() time.Time { return baseNow.Add(offset) }, &offset
}

func action(chatID, entityID, title string) recent.Action {
	return recent.Action{
		Type:     kb.ActionCreate,
		Entity:   kb.EntityTask,
		EntityID: entityID,
		Title:    title,
		ChatID:   chatID,
	}
}

func TestBookLastIsLIFO(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewBook(now)

	book.Track(action("42", "task-1", "first"))
	book.Track(action("42", "task-2", "second"))

	last, ok := book.Last("42")
	if !ok || last.EntityID != "task-2" {
		t.Fatalf("Last = (%+v, %v), want task-2", last, ok)
	}
}

func TestBookCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewBook(now)

	for i := 0; i < recent.ActionCapacity+3; i++ {
		book.Track(action("42", fmt.Sprintf("task-%d", i), "t"))
	}

	list := book.List("42")
	if len(list) != recent.ActionCapacity {
		t.Fatalf("List = %d действий, want %d", len(list), recent.ActionCapacity)
	}
	// Самое свежее — первым, самые старые вытеснены.
	if list[0].EntityID != "task-12" || list[len(list)-1].EntityID != "task-3" {
		t.Fatalf("List границы = %s .. %s", list[0].EntityID, list[len(list)-1].EntityID)
	}
}

func TestBookTTLExpiry(t *testing.T) {
	t.Parallel()

	now, offset := shiftClock()
	book := recent.NewBook(now)

	book.Track(action("42", "task-1", "old"))
	*offset = recent.ActionTTL + time.Minute
	book.Track(action("42", "task-2", "fresh"))

	list := book.List("42")
	if len(list) != 1 || list[0].EntityID != "task-2" {
		t.Fatalf("List = %+v, want только task-2", list)
	}
}

func TestBookDropAndRename(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewBook(now)

	book.Track(action("42", "task-1", "old title"))
	book.Rename("42", "task-1", "new title")
	if last, ok := book.Last("42"); !ok || last.Title != "new title" {
		t.Fatalf("Last после Rename = (%+v, %v)", last, ok)
	}

	book.Drop("42", "task-1")
	if _, ok := book.Last("42"); ok {
		t.Fatal("Last после Drop нашёл действие")
	}
}

func TestBookChatsAreIsolated(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewBook(now)

	book.Track(action("42", "task-1", "a"))
	if _, ok := book.Last("99"); ok {
		t.Fatal("действие чужого чата видно")
	}
}

func deleted(chatID, entityID string, at time.Time) recent.Deleted {
	return recent.Deleted{
		Entity:    kb.EntityTask,
		EntityID:  entityID,
		Title:     entityID,
		ChatID:    chatID,
		DeletedAt: at,
	}
}

func TestDeletedPopLastOrder(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewDeletedBook(now)

	book.Push(deleted("42", "task-1", baseNow))
	book.Push(deleted("42", "task-2", baseNow.Add(time.Minute)))

	d, outcome := book.PopLast("42")
	if outcome != recent.PopOK || d.EntityID != "task-2" {
		t.Fatalf("PopLast = (%+v, %v), want task-2", d, outcome)
	}
	d, outcome = book.PopLast("42")
	if outcome != recent.PopOK || d.EntityID != "task-1" {
		t.Fatalf("PopLast = (%+v, %v), want task-1", d, outcome)
	}
	if _, outcome = book.PopLast("42"); outcome != recent.PopNotTracked {
		t.Fatalf("PopLast пустого кольца = %v, want PopNotTracked", outcome)
	}
}

func TestDeletedPopLastSkipsExpired(t *testing.T) {
	t.Parallel()

	now, offset := shiftClock()
	book := recent.NewDeletedBook(now)

	book.Push(deleted("42", "task-1", baseNow))
	*offset = recent.DeletedTTL + time.Hour

	if _, outcome := book.PopLast("42"); outcome != recent.PopAllExpired {
		t.Fatalf("PopLast = %v, want PopAllExpired", outcome)
	}
}

func TestDeletedPendingHidesExpired(t *testing.T) {
	t.Parallel()

	now, offset := shiftClock()
	book := recent.NewDeletedBook(now)

	book.Push(deleted("42", "task-old", baseNow.Add(-recent.DeletedTTL-time.Hour)))
	book.Push(deleted("42", "task-new", baseNow))
	_ = offset

	pending := book.Pending("42")
	if len(pending) != 1 || pending[0].EntityID != "task-new" {
		t.Fatalf("Pending = %+v, want только task-new", pending)
	}
}

func TestDeletedRemove(t *testing.T) {
	t.Parallel()

	now, _ := shiftClock()
	book := recent.NewDeletedBook(now)

	book.Push(deleted("42", "task-1", baseNow))
	book.Remove("42", "task-1")
	if _, outcome := book.PopLast("42"); outcome != recent.PopNotTracked {
		t.Fatalf("PopLast после Remove = %v, want PopNotTracked", outcome)
	}
}
