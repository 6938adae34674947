// Package softdelete — мягкое удаление с 30-дневным окном отмены.
// Удаление ставит отметку deleted-at через шлюз базы знаний (запись исчезает
// из выборок по умолчанию, но не стирается) и кладёт слепок в кольцо
// удалённых по чату; «undo» снимает самую свежую неистёкшую запись кольца
// и очищает отметку. Восстановление по идентификатору работает даже для
// неотслеживаемых и истёкших записей.
package softdelete

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/recent"
	"second-brain/internal/shared/fault"
)

// Стабильные пользовательские ответы.
const (
	MsgNothingToUndo = "Nothing to undo."
	MsgUndoExpired   = "That was deleted more than 30 days ago."
)

// DeleteMessage строит ответ об удалении с подсказкой отмены.
func DeleteMessage(title string) string {
	return fmt.Sprintf("Done. Removed %q. Say \"undo\" to restore.", title)
}

// RestoreMessage строит ответ об успешном восстановлении.
func RestoreMessage(title string) string {
	return fmt.Sprintf("Restored %q.", title)
}

// Target — запись, подлежащая удалению.
type Target struct {
	Entity    kb.EntityType
	ID        string
	Title     string
	MessageID string
}

// Result — исход операции удаления или восстановления.
type Result struct {
	OK      bool
	CanUndo bool
	Message string
}

// Service выполняет мягкое удаление и восстановление.
type Service struct {
	gw      kb.Gateway
	log     *audit.Logger
	deleted *recent.DeletedBook
	now     func() time.Time
}

// New создаёт сервис поверх шлюза, журнала аудита и кольца удалённых.
func New(gw kb.Gateway, log *audit.Logger, deleted *recent.DeletedBook, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{gw: gw, log: log, deleted: deleted, now: nowFn}
}

// Delete мягко удаляет запись: отметка в базе, запись журнала, слепок в кольце.
// 404 от шлюза считается успехом: удаление идемпотентно.
func (s *Service) Delete(ctx context.Context, chatID string, t Target) (Result, error) {
	if err := s.gw.SoftDelete(ctx, t.Entity, t.ID); err != nil && !fault.IsNotFound(err) {
		return Result{}, errors.Wrap(err, "softdelete: mark deleted")
	}

	key := audit.TransportKey("delete", chatID, t.MessageID)
	if err := s.log.LogDelete(ctx, key, t.ID, fmt.Sprintf("soft-deleted %s %q", t.Entity, t.Title)); err != nil {
		return Result{}, err
	}

	s.deleted.Push(recent.Deleted{
		Entity:    t.Entity,
		EntityID:  t.ID,
		Title:     t.Title,
		ChatID:    chatID,
		MessageID: t.MessageID,
		DeletedAt: s.now(),
	})

	return Result{OK: true, CanUndo: true, Message: DeleteMessage(t.Title)}, nil
}

// UndoLast восстанавливает самую свежую неистёкшую удалённую запись чата.
func (s *Service) UndoLast(ctx context.Context, chatID string) (Result, error) {
	d, outcome := s.deleted.PopLast(chatID)
	switch outcome {
	case recent.PopNotTracked:
		return Result{Message: MsgNothingToUndo}, nil
	case recent.PopAllExpired:
		return Result{Message: MsgUndoExpired}, nil
	case recent.PopOK:
	}

	if err := s.gw.UndoDelete(ctx, d.Entity, d.EntityID); err != nil {
		// Запись вернётся в кольцо: пользователь сможет повторить undo.
		s.deleted.Push(d)
		return Result{}, errors.Wrap(err, "softdelete: undo delete")
	}

	key := audit.TransportKey("undo", chatID, d.MessageID)
	if err := s.log.LogUpdate(ctx, key, d.EntityID, fmt.Sprintf("restored %s %q", d.Entity, d.Title), ""); err != nil {
		return Result{}, err
	}

	return Result{OK: true, Message: RestoreMessage(d.Title)}, nil
}

// RestoreByID восстанавливает запись по идентификатору безусловно: работает
// и для записей, которых нет в кольце, и для истёкших.
func (s *Service) RestoreByID(ctx context.Context, chatID string, entity kb.EntityType, id, title string) (Result, error) {
	if err := s.gw.UndoDelete(ctx, entity, id); err != nil {
		return Result{}, errors.Wrap(err, "softdelete: restore by id")
	}

	s.deleted.Remove(chatID, id)

	key := audit.TransportKey("restore", chatID, id)
	if err := s.log.LogUpdate(ctx, key, id, fmt.Sprintf("restored %s %q by id", entity, title), ""); err != nil {
		return Result{}, err
	}

	return Result{OK: true, Message: RestoreMessage(title)}, nil
}

// PendingDeletes возвращает неистёкшие удалённые записи чата.
func (s *Service) PendingDeletes(chatID string) []recent.Deleted {
	return s.deleted.Pending(chatID)
}
