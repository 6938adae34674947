// Package queue — офлайн-очередь действий к базе знаний. Когда хранилище
// недоступно, действие сериализуется одной JSON-строкой в append-only файл
// <data_dir>/queue/pending.jsonl, а пользователь сразу получает ответ о
// локальном сохранении. Дренаж читает файл строго по порядку, дедуплицирует
// по идемпотентному ключу в пределах прохода, диспетчеризует действия в шлюз
// и переписывает файл только неудавшимися записями с запасом попыток.
// Дисциплина одного писателя: и дозапись, и перезапись идут под мьютексом.
package queue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
	"second-brain/internal/infra/storage"
)

// OfflineReply — ответ пользователю при недоступной базе знаний.
const OfflineReply = "Saved locally, will sync when Notion is back"

// maxRetries — число дренажей, в которых действие может провалиться,
// прежде чем будет отброшено.
const maxRetries = 3

// ActionType — тип отложенного действия.
type ActionType string

const (
	ActionCreateInbox ActionType = "create-inbox"
	ActionCreateTask  ActionType = "create-task"
)

// Action — одно отложенное действие. Сериализуется одной JSON-строкой.
type Action struct {
	Type           ActionType        `json:"type"`
	IdempotencyKey string            `json:"idempotency_key"`
	Data           map[string]string `json:"data"`
	RetryCount     int               `json:"retry_count"`
	ChatID         string            `json:"chat_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
}

// Report — итог одного дренажа.
type Report struct {
	Successful   int
	Failed       int
	Deduplicated int
	Skipped      int // нечитаемые строки
}

// Clean сообщает, прошёл ли дренаж без потерь.
func (r Report) Clean() bool { return r.Failed == 0 && r.Skipped == 0 }

// Store владеет файлом очереди. Единственный писатель файла в процессе.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore создаёт очередь над файлом path. nowFn подменяет время в тестах.
func NewStore(path string, nowFn func() time.Time) *Store {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{path: path, now: nowFn}
}

// Path возвращает путь файла очереди.
func (s *Store) Path() string { return s.path }

// Enqueue дописывает действие одной строкой. Родительский каталог создаётся
// при необходимости.
func (s *Store) Enqueue(a Action) error {
	if a.EnqueuedAt.IsZero() {
		a.EnqueuedAt = s.now()
	}

	line, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "queue: encode action")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.AppendLine(s.path, line); err != nil {
		return errors.Wrap(err, "queue: append")
	}
	logger.Infof("queue: action %s (%s) saved locally", a.Type, a.IdempotencyKey)
	return nil
}

// EnqueueInboxItem строит и ставит в очередь захват входящего сообщения.
func (s *Store) EnqueueInboxItem(key, text string, source kb.Source, chatID, msgID string, confidence int, needsClarification bool) error {
	return s.Enqueue(Action{
		Type:           ActionCreateInbox,
		IdempotencyKey: key,
		ChatID:         chatID,
		MessageID:      msgID,
		Data: map[string]string{
			"raw_input":           text,
			"source":              string(source),
			"confidence":          itoa(confidence),
			"needs_clarification": boolStr(needsClarification),
		},
	})
}

// EnqueueTask строит и ставит в очередь создание задачи.
func (s *Store) EnqueueTask(key, title string, due *time.Time, zoneName string, source kb.Source, chatID, msgID string, confidence int) error {
	data := map[string]string{
		"title":      title,
		"source":     string(source),
		"confidence": itoa(confidence),
	}
	if due != nil {
		data["due"] = due.Format(time.RFC3339)
		data["timezone"] = zoneName
	}
	return s.Enqueue(Action{
		Type:           ActionCreateTask,
		IdempotencyKey: key,
		ChatID:         chatID,
		MessageID:      msgID,
		Data:           data,
	})
}

// Len возвращает число записей в файле очереди (для статуса консоли).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, _, err := s.readAll()
	if err != nil {
		return 0
	}
	return len(actions)
}

// Drain воспроизводит очередь в шлюз строго в порядке файла.
//
// Повторяющиеся ключи в пределах прохода схлопываются; действие, провалившееся
// меньше maxRetries раз, остаётся в файле с увеличенным счётчиком; пустой
// остаток удаляет файл. Идемпотентные ключи совпадают с онлайн-путём, поэтому
// действие, которое сервер успел увидеть до сбоя, дополнительно поглотится
// проверкой идемпотентности на стороне вызывающего.
func (s *Store) Drain(ctx context.Context, gw kb.Gateway) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions, skipped, err := s.readAll()
	if err != nil {
		return Report{}, err
	}
	if len(actions) == 0 && skipped == 0 {
		return Report{}, nil
	}

	report := Report{Skipped: skipped}
	seen := make(map[string]bool)
	var retryable []Action

	for _, a := range actions {
		if a.IdempotencyKey != "" && seen[a.IdempotencyKey] {
			report.Deduplicated++
			continue
		}

		if err := s.dispatch(ctx, gw, a); err != nil {
			a.RetryCount++
			report.Failed++
			if a.RetryCount < maxRetries {
				retryable = append(retryable, a)
			} else {
				logger.Errorf("queue: action %s (%s) dropped after %d attempts: %v",
					a.Type, a.IdempotencyKey, a.RetryCount, err)
			}
			continue
		}

		if a.IdempotencyKey != "" {
			seen[a.IdempotencyKey] = true
		}
		report.Successful++
	}

	if err := s.rewrite(retryable); err != nil {
		return report, err
	}

	logger.Infof("queue: drained %d ok, %d failed, %d deduplicated, %d skipped",
		report.Successful, report.Failed, report.Deduplicated, report.Skipped)
	return report, nil
}

// dispatch отображает отложенное действие в типизированный вызов шлюза.
func (s *Store) dispatch(ctx context.Context, gw kb.Gateway, a Action) error {
	switch a.Type {
	case ActionCreateInbox:
		_, err := gw.CreateInboxItem(ctx, kb.InboxItem{
			RawInput:           a.Data["raw_input"],
			Source:             kb.Source(a.Data["source"]),
			ChatID:             a.ChatID,
			MessageID:          a.MessageID,
			Confidence:         atoi(a.Data["confidence"]),
			NeedsClarification: a.Data["needs_clarification"] == "true",
		})
		return err

	case ActionCreateTask:
		task := kb.Task{
			Title:        a.Data["title"],
			Status:       kb.TaskTodo,
			Priority:     kb.PriorityMedium,
			Source:       kb.Source(a.Data["source"]),
			Confidence:   atoi(a.Data["confidence"]),
			CreatedBy:    kb.CreatedByAI,
			TimezoneName: a.Data["timezone"],
		}
		if raw := a.Data["due"]; raw != "" {
			if due, err := time.Parse(time.RFC3339, raw); err == nil {
				task.Due = &due
			}
		}
		_, err := gw.CreateTask(ctx, task)
		return err

	default:
		return errors.Errorf("queue: unknown action type %q", a.Type)
	}
}

// readAll читает файл очереди: действия в порядке строк плюс счётчик
// пропущенных нечитаемых строк. Отсутствие файла — пустая очередь.
func (s *Store) readAll() ([]Action, int, error) {
	f, err := os.Open(filepath.Clean(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrap(err, "queue: open")
	}
	defer func() { _ = f.Close() }()

	var (
		actions []Action
		skipped int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(line, &a); err != nil {
			logger.Warnf("queue: malformed line skipped: %v", err)
			skipped++
			continue
		}
		actions = append(actions, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "queue: scan")
	}
	return actions, skipped, nil
}

// rewrite заменяет файл очереди оставшимися действиями; пустой остаток
// удаляет файл.
func (s *Store) rewrite(actions []Action) error {
	if len(actions) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "queue: remove drained file")
		}
		return nil
	}

	var buf bytes.Buffer
	for _, a := range actions {
		line, err := json.Marshal(a)
		if err != nil {
			return errors.Wrap(err, "queue: encode retryable")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return errors.Wrap(storage.AtomicWriteFile(s.path, buf.Bytes()), "queue: rewrite")
}

func itoa(v int) string { return strconv.Itoa(v) }

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}

func boolStr(v bool) string { return strconv.FormatBool(v) }
