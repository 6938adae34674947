// Package corrections — распознавание и обработка поправок пользователя.
// Детекторы («wrong», «i meant», «change X to Y», «undo» и т.д.) объявлены
// декларативным реестром регулярных выражений: каждая строка реестра
// тестируется и расширяется без правок логики. Обработка целится в самое
// свежее действие ассистента в чате (LIFO по кольцу недавних действий):
// переименование через шлюз, записи журнала, подкормка детектора правил
// и, для семейства undo, мягкое удаление.
package corrections

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/audit"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/patterns"
	"second-brain/internal/domain/recent"
	"second-brain/internal/domain/softdelete"
)

// Стабильные пользовательские ответы.
const (
	MsgNoRecentAction = "I don't see a recent action to fix. What should I change?"
	MsgWhatInstead    = "Got it, that was wrong. What should it be instead?"
)

// FixedMessage строит ответ об успешном исправлении.
func FixedMessage(orig, corr string) string {
	return fmt.Sprintf("Fixed. Changed %q to %q.", orig, corr)
}

// RememberNotice строит приписку о выученном правиле.
func RememberNotice(trigger, meaning string, occurrences int) string {
	return fmt.Sprintf(" I'll remember this: %q means %q (seen %d times).", trigger, meaning, occurrences)
}

// Реестр детекторов. Якоря и регистронезависимость — в самих выражениях;
// порядок внутри каждого семейства значения не имеет, совпадение любого
// выражения срабатывает.
var (
	correctionDetectors = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*wrong\b`),
		regexp.MustCompile(`(?i)\bthat'?s\s+wrong\b`),
		regexp.MustCompile(`(?i)\bthat'?s\s+not\s+(right|correct)\b`),
		regexp.MustCompile(`(?i)^\s*no,`),
		regexp.MustCompile(`(?i)\bincorrect\b`),
		regexp.MustCompile(`(?i)^\s*actually\b`),
		regexp.MustCompile(`(?i)\bnot\s+(that|this)\b`),
		regexp.MustCompile(`(?i)\bi\s+said\b`),
		regexp.MustCompile(`(?i)\bi\s+meant\b`),
		regexp.MustCompile(`(?i)\bshould\s+(be|have\s+been)\b`),
		regexp.MustCompile(`(?i)\b(it'?s|it\s+was|that\s+was)\s+.+\s+not\s+.+`),
		regexp.MustCompile(`(?i)\bchange\s+.+\s+to\s+.+`),
	}

	undoDetectors = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*undo\b`),
		regexp.MustCompile(`(?i)\bcancel\s+that\b`),
		regexp.MustCompile(`(?i)\bdelete\s+that\b`),
	}

	// Экстракторы пары (correct, wrong). Порядок важен: более специфичные
	// формы («change X to Y») стоят раньше общих.
	pairExtractors = []struct {
		re      *regexp.Regexp
		correct int // индекс подгруппы с верным значением
		wrong   int // индекс подгруппы с неверным; 0 — отсутствует
	}{
		// «change X to Y»: позиции переставлены — верное значение второе.
		{re: regexp.MustCompile(`(?i)\bchange\s+(.+?)\s+to\s+(.+?)(?:[.!?]|$)`), correct: 2, wrong: 1},
		{re: regexp.MustCompile(`(?i)\b(?:it'?s|it\s+was|that\s+was)\s+(.+?)\s+not\s+(.+?)(?:[.!?]|$)`), correct: 1, wrong: 2},
		{re: regexp.MustCompile(`(?i)\bi\s+(?:said|meant)\s+(.+?)(?:,?\s+not\s+(.+?))?(?:[.!?]|$)`), correct: 1, wrong: 2},
		{re: regexp.MustCompile(`(?i)\bshould\s+(?:be|have\s+been)\s+(.+?)(?:[.!?]|$)`), correct: 1},
		{re: regexp.MustCompile(`(?i)^\s*(?:no,|wrong[,.]?|actually[,.]?)\s+(?:it'?s\s+)?(.+?)(?:[.!?]|$)`), correct: 1},
	}
)

// IsCorrection сообщает, похоже ли сообщение на поправку (включая undo).
func IsCorrection(text string) bool {
	if IsUndo(text) {
		return true
	}
	for _, re := range correctionDetectors {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsUndo сообщает, относится ли сообщение к семейству undo/cancel/delete.
func IsUndo(text string) bool {
	for _, re := range undoDetectors {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ExtractPair достаёт из поправки верное значение и, если названо, неверное.
func ExtractPair(text string) (correct, wrong string, ok bool) {
	for _, ex := range pairExtractors {
		m := ex.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		correct = strings.TrimSpace(m[ex.correct])
		if ex.wrong > 0 && ex.wrong < len(m) {
			wrong = strings.TrimSpace(m[ex.wrong])
		}
		if correct != "" {
			return correct, wrong, true
		}
	}
	return "", "", false
}

// Handler обрабатывает поправки: переименование цели, журнал, детектор правил.
type Handler struct {
	gw       kb.Gateway
	log      *audit.Logger
	book     *recent.Book
	deleter  *softdelete.Service
	detector *patterns.Detector
	now      func() time.Time
}

// New создаёт обработчик поправок.
func New(
	gw kb.Gateway,
	log *audit.Logger,
	book *recent.Book,
	deleter *softdelete.Service,
	detector *patterns.Detector,
	nowFn func() time.Time,
) *Handler {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Handler{gw: gw, log: log, book: book, deleter: deleter, detector: detector, now: nowFn}
}

// Outcome — результат обработки поправки.
type Outcome struct {
	Handled bool   // сообщение было поправкой и обработано
	Reply   string // текст ответа пользователю
}

// Process разбирает поправку и применяет её к последнему действию чата.
//
// Поток: не поправка → не обработано; семейство undo → мягкое удаление
// последнего действия (при пустом кольце — не обработано, восстановлением
// занимается вызывающий); нет недавнего действия → просим уточнить
// цель; пара не
// извлеклась → просим верное значение; иначе — переименование, два журнальных
// события, подкормка детектора, обновление кольца и ответ.
func (h *Handler) Process(ctx context.Context, text, chatID, msgID string) (Outcome, error) {
	if !IsCorrection(text) {
		return Outcome{}, nil
	}

	last, ok := h.book.Last(chatID)

	if IsUndo(text) {
		if !ok {
			// Кольцо пусто: скорее всего пользователь отменяет удаление.
			// Пропускаем дальше, к восстановлению из мягкого удаления.
			return Outcome{}, nil
		}
		return h.handleUndo(ctx, chatID, msgID, last)
	}

	if !ok {
		return Outcome{Handled: true, Reply: MsgNoRecentAction}, nil
	}

	correct, wrong, ok := ExtractPair(text)
	if !ok {
		return Outcome{Handled: true, Reply: MsgWhatInstead}, nil
	}
	if wrong == "" {
		wrong = last.Title
	}

	if err := h.gw.UpdateTitle(ctx, last.Entity, last.EntityID, correct); err != nil {
		return Outcome{}, errors.Wrap(err, "corrections: update title")
	}

	correction := fmt.Sprintf("%s → %s", last.Title, correct)
	key := audit.TransportKey("correction", chatID, msgID)
	if err := h.log.LogUpdate(ctx, key, last.EntityID,
		fmt.Sprintf("corrected %s title to %q", last.Entity, correct), correction); err != nil {
		return Outcome{}, err
	}

	h.book.Rename(chatID, last.EntityID, correct)

	reply := FixedMessage(last.Title, correct)
	if det, crossed := h.detector.Record(ctx, patterns.Correction{
		Original:   wrong,
		Corrected:  correct,
		Context:    text,
		EntityType: last.Entity,
		At:         h.now(),
	}); crossed {
		reply += RememberNotice(det.Trigger, det.Meaning, det.Occurrences)
	}

	return Outcome{Handled: true, Reply: reply}, nil
}

// handleUndo мягко удаляет последнее действие чата и убирает его из кольца.
func (h *Handler) handleUndo(ctx context.Context, chatID, msgID string, last recent.Action) (Outcome, error) {
	res, err := h.deleter.Delete(ctx, chatID, softdelete.Target{
		Entity:    last.Entity,
		ID:        last.EntityID,
		Title:     last.Title,
		MessageID: msgID,
	})
	if err != nil {
		return Outcome{}, err
	}

	h.book.Drop(chatID, last.EntityID)
	return Outcome{Handled: true, Reply: res.Message}, nil
}
