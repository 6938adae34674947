package patterns

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
)

// autoApplyConfidence — порог уверенности, с которого правило применяется
// автоматически, без подтверждения пользователя.
const autoApplyConfidence = 70

// Applied — применённое правило: что и во что переписано.
type Applied struct {
	PatternID string
	Trigger   string
	Meaning   string
	Type      kb.PatternType
	Field     string // "person", "place" или "title"
}

// Applicator держит кэш автоприменимых правил и переписывает извлечённые
// сущности до связывания. Кэш загружается на старте и по явному Refresh;
// между обновлениями он только читается.
type Applicator struct {
	gw  kb.Gateway
	now func() time.Time

	mu    sync.RWMutex
	cache []kb.Pattern
}

// NewApplicator создаёт аппликатор с пустым кэшем.
func NewApplicator(gw kb.Gateway, nowFn func() time.Time) *Applicator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Applicator{gw: gw, now: nowFn}
}

// Refresh перечитывает автоприменимые правила (Confidence ≥ 70) из базы знаний.
func (a *Applicator) Refresh(ctx context.Context) error {
	rows, err := a.gw.QueryPatterns(ctx, kb.PatternQuery{MinConfidence: autoApplyConfidence})
	if err != nil {
		return errors.Wrap(err, "patterns: refresh cache")
	}

	a.mu.Lock()
	a.cache = rows
	a.mu.Unlock()

	logger.Debugf("patterns: cache refreshed, %d auto-applicable", len(rows))
	return nil
}

// Cached возвращает копию кэша правил.
func (a *Applicator) Cached() []kb.Pattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]kb.Pattern, len(a.cache))
	copy(out, a.cache)
	return out
}

// matches сообщает, срабатывает ли триггер правила на значении:
// нормализованное равенство, триггер внутри значения, либо значение
// (от трёх символов) внутри триггера.
func matches(trigger, value string) bool {
	t, v := normalize(trigger), normalize(value)
	switch {
	case t == "" || v == "":
		return false
	case t == v:
		return true
	case strings.Contains(v, t):
		return true
	case len(v) >= 3 && strings.Contains(t, v):
		return true
	}
	return false
}

// Apply прогоняет извлечённые сущности через кэш правил. Каждая сущность
// переписывается не более чем одним правилом — первым совпавшим. Если заголовок
// содержит исходное значение, оно заменяется на значение правила без учёта
// регистра. Правила без совпавшей сущности фиксируются, но заголовок не правят:
// они могут влиять на классификацию приоритета позже.
func (a *Applicator) Apply(title string, entities *extract.Entities) (string, []Applied) {
	cache := a.Cached()
	if len(cache) == 0 {
		return title, nil
	}

	var applied []Applied

	for i := range entities.People {
		if p, ok := firstMatch(cache, entities.People[i].Name); ok {
			title = replaceFold(title, entities.People[i].Name, p.Meaning)
			entities.People[i].Name = p.Meaning
			applied = append(applied, Applied{
				PatternID: p.ID, Trigger: p.Trigger, Meaning: p.Meaning,
				Type: p.Type, Field: "person",
			})
		}
	}

	for i := range entities.Places {
		if p, ok := firstMatch(cache, entities.Places[i].Name); ok {
			title = replaceFold(title, entities.Places[i].Name, p.Meaning)
			entities.Places[i].Name = p.Meaning
			applied = append(applied, Applied{
				PatternID: p.ID, Trigger: p.Trigger, Meaning: p.Meaning,
				Type: p.Type, Field: "place",
			})
		}
	}

	// Правила, совпавшие только с заголовком.
	for _, p := range cache {
		if alreadyApplied(applied, p.ID) {
			continue
		}
		if matches(p.Trigger, title) {
			applied = append(applied, Applied{
				PatternID: p.ID, Trigger: p.Trigger, Meaning: p.Meaning,
				Type: p.Type, Field: "title",
			})
		}
	}

	a.touch(applied)
	return title, applied
}

// firstMatch возвращает первое правило кэша, сработавшее на значении.
func firstMatch(cache []kb.Pattern, value string) (kb.Pattern, bool) {
	for _, p := range cache {
		if matches(p.Trigger, value) {
			return p, true
		}
	}
	return kb.Pattern{}, false
}

func alreadyApplied(applied []Applied, patternID string) bool {
	for _, a := range applied {
		if a.PatternID == patternID {
			return true
		}
	}
	return false
}

// replaceFold заменяет все вхождения old в s на repl без учёта регистра.
// Позиции ищутся в самой строке: индексы из сложенной копии непригодны,
// когда смена регистра меняет байтовую длину руны (İ, Ⱥ и подобные).
func replaceFold(s, old, repl string) string {
	if old == "" {
		return s
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(old))
	return re.ReplaceAllLiteralString(s, repl)
}

// touch обновляет last-used применённых правил. Сбой не критичен: отметка
// влияет только на будущую чистку кэша.
func (a *Applicator) touch(applied []Applied) {
	if len(applied) == 0 {
		return
	}
	now := a.now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ap := range applied {
		if ap.PatternID == "" {
			continue
		}
		if err := a.gw.UpdatePatternFields(ctx, ap.PatternID, kb.PatternPatch{LastUsed: &now}); err != nil {
			logger.Debugf("patterns: touch %s: %v", ap.PatternID, err)
		}
	}
}
