// Package patterns — память о поправках пользователя. Детектор накапливает
// историю исправлений, находит повторяющиеся («Jess» трижды исправляли на
// «Tess») и превращает их в правила; аппликатор применяет сохранённые правила
// к свежеизвлечённым сущностям до связывания с базой знаний. Метрика схожести
// строк намеренно дешёвая — посимвольное совпадение позиций; пороги детекции
// от неё не зависят и при замене на edit distance останутся прежними.
package patterns

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
)

const (
	// minOccurrences — сколько схожих исправлений образуют правило.
	minOccurrences = 3

	// similarityThreshold — порог схожести нормализованных строк.
	similarityThreshold = 0.8

	// baseConfidence — уверенность правила при ровно трёх исправлениях.
	baseConfidence = 50
	// perExtraOccurrence — прибавка за каждое исправление сверх трёх.
	perExtraOccurrence = 10
	// allAgreeBonus — прибавка, когда все исправления сошлись в одном значении.
	allAgreeBonus = 10
	// maxConfidence — потолок уверенности.
	maxConfidence = 100
)

// Correction — одно зафиксированное исправление пользователя.
type Correction struct {
	Original   string
	Corrected  string
	Context    string
	EntityType kb.EntityType
	At         time.Time
}

// Detected — обнаруженное повторяющееся исправление, готовое стать правилом.
type Detected struct {
	Trigger     string
	Meaning     string
	Occurrences int
	Confidence  int
	Type        kb.PatternType
}

// Detector накапливает исправления и обнаруживает закономерности. Потокобезопасен.
type Detector struct {
	gw  kb.Gateway
	now func() time.Time

	mu      sync.Mutex
	history []Correction
	pending []Detected // обнаруженные, но ещё не сохранённые правила
}

// NewDetector создаёт детектор поверх шлюза.
func NewDetector(gw kb.Gateway, nowFn func() time.Time) *Detector {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Detector{gw: gw, now: nowFn}
}

// normalize приводит строку к виду для сравнения: нижний регистр, обрезка,
// удаление знаков препинания.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '\'', '"', '-':
			return -1
		}
		return r
	}, s)
}

// Similarity — дешёвая метрика схожести: доля совпавших позиций со штрафом
// за разницу длин: (matches − |len₁−len₂|·0.5) / max(len₁, len₂).
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	short := la
	if lb < short {
		short = lb
	}
	matches := 0
	for i := 0; i < short; i++ {
		if a[i] == b[i] {
			matches++
		}
	}

	longest := la
	if lb > longest {
		longest = lb
	}
	diff := float64(la - lb)
	if diff < 0 {
		diff = -diff
	}

	score := (float64(matches) - diff*0.5) / float64(longest)
	if score < 0 {
		return 0
	}
	return score
}

// similar сообщает, считаются ли два исправления повторами одной закономерности:
// одинаковая пара, либо один оригинал и близкие поправки, либо близкие
// оригиналы и одна поправка.
func similar(a, b Correction) bool {
	ao, bo := normalize(a.Original), normalize(b.Original)
	ac, bc := normalize(a.Corrected), normalize(b.Corrected)

	switch {
	case ao == bo && ac == bc:
		return true
	case ao == bo && Similarity(ac, bc) > similarityThreshold:
		return true
	case Similarity(ao, bo) > similarityThreshold && ac == bc:
		return true
	}
	return false
}

// Record фиксирует новое исправление и запускает детекцию. Возвращает
// обнаруженное правило, если порог повторов пройден впервые.
func (d *Detector) Record(ctx context.Context, c Correction) (Detected, bool) {
	if c.At.IsZero() {
		c.At = d.now()
	}

	d.mu.Lock()
	d.history = append(d.history, c)

	cluster := []Correction{c}
	for _, past := range d.history[:len(d.history)-1] {
		if similar(past, c) {
			cluster = append(cluster, past)
		}
	}

	if len(cluster) < minOccurrences {
		d.mu.Unlock()
		return Detected{}, false
	}

	det := buildDetected(cluster)
	if d.alreadyPending(det) {
		d.mu.Unlock()
		return Detected{}, false
	}
	d.pending = append(d.pending, det)
	d.mu.Unlock()

	if err := d.persist(ctx, det); err != nil {
		logger.Warnf("patterns: persist %q->%q: %v", det.Trigger, det.Meaning, err)
	}
	return det, true
}

// Analyze прогоняет детекцию по всей истории: группирует по нормализованному
// оригиналу, затем по поправке. Возвращает все закономерности с порогом повторов.
func (d *Detector) Analyze() []Detected {
	d.mu.Lock()
	defer d.mu.Unlock()

	groups := make(map[string][]Correction)
	for _, c := range d.history {
		key := normalize(c.Original) + "\x00" + normalize(c.Corrected)
		groups[key] = append(groups[key], c)
	}

	var out []Detected
	for _, cluster := range groups {
		if len(cluster) >= minOccurrences {
			out = append(out, buildDetected(cluster))
		}
	}
	return out
}

// Pending возвращает копию списка обнаруженных, но не подтверждённых правил.
func (d *Detector) Pending() []Detected {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Detected, len(d.pending))
	copy(out, d.pending)
	return out
}

// alreadyPending сообщает, есть ли эквивалентное правило среди необработанных.
// Вызывается под мьютексом.
func (d *Detector) alreadyPending(det Detected) bool {
	for _, p := range d.pending {
		if normalize(p.Trigger) == normalize(det.Trigger) &&
			normalize(p.Meaning) == normalize(det.Meaning) {
			return true
		}
	}
	return false
}

// persist сохраняет правило через шлюз. Порог повторов к этому моменту
// уже пройден.
func (d *Detector) persist(ctx context.Context, det Detected) error {
	_, err := d.gw.CreatePattern(ctx, kb.Pattern{
		Trigger:        det.Trigger,
		Meaning:        det.Meaning,
		Confidence:     det.Confidence,
		TimesConfirmed: det.Occurrences,
		Type:           det.Type,
	})
	return errors.Wrap(err, "patterns: create pattern")
}

// buildDetected строит правило из кластера схожих исправлений: триггер и
// значение — мода, уверенность растёт с числом повторов и единодушием.
func buildDetected(cluster []Correction) Detected {
	trigger := mode(cluster, func(c Correction) string { return c.Original })
	meaning := mode(cluster, func(c Correction) string { return c.Corrected })

	confidence := baseConfidence + perExtraOccurrence*(len(cluster)-minOccurrences)
	if allAgree(cluster) {
		confidence += allAgreeBonus
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return Detected{
		Trigger:     trigger,
		Meaning:     meaning,
		Occurrences: len(cluster),
		Confidence:  confidence,
		Type:        dominantType(cluster),
	}
}

// mode возвращает самое частое значение поля; при равенстве — первое встреченное.
func mode(cluster []Correction, field func(Correction) string) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, c := range cluster {
		v := field(c)
		key := normalize(v)
		counts[key]++
		if counts[key] > bestCount {
			best, bestCount = v, counts[key]
		}
	}
	return best
}

// allAgree сообщает, совпали ли все поправки кластера.
func allAgree(cluster []Correction) bool {
	first := normalize(cluster[0].Corrected)
	for _, c := range cluster[1:] {
		if normalize(c.Corrected) != first {
			return false
		}
	}
	return true
}

// dominantType выводит тип правила из типов исправленных сущностей.
func dominantType(cluster []Correction) kb.PatternType {
	counts := make(map[kb.EntityType]int)
	for _, c := range cluster {
		counts[c.EntityType]++
	}

	best, bestCount := kb.EntityType(""), 0
	for et, n := range counts {
		if n > bestCount {
			best, bestCount = et, n
		}
	}

	switch best {
	case kb.EntityPerson:
		return kb.PatternPerson
	case kb.EntityPlace:
		return kb.PatternPlace
	case kb.EntityTask, kb.EntityInbox:
		return kb.PatternName
	default:
		return kb.PatternName
	}
}
