// Package resolve — поиск-или-создание сущностей базы знаний (люди, места,
// проекты) по имени из свободного текста. Три сервиса одной формы делят общее
// ядро: лестница уверенности нечёткого совпадения, приоритетный бонус домена
// и правила разрешения неоднозначности. Уверенность 0.0–1.0; к ней добавляется
// бонус priority-rank/1000 с потолком 1.0.
package resolve

import (
	"sort"
	"strings"
	"time"
)

// Лестница уверенности совпадений.
const (
	confExactName    = 1.0
	confPrefixName   = 0.9
	confContainsName = 0.7

	confExactAlias    = 0.95
	confPrefixAlias   = 0.85
	confContainsAlias = 0.6

	confAddress = 0.6
	confPartial = 0.5

	// silentThreshold — уверенность, с которой верхний кандидат побеждает
	// без вопроса пользователю.
	silentThreshold = 0.9
	// priorityThreshold — минимальная уверенность, с которой кандидат
	// с топ-приоритетным атрибутом предпочитается верхнему.
	priorityThreshold = 0.7

	// priorityDivisor переводит ранг приоритета в малый бонус уверенности.
	priorityDivisor = 1000.0
)

// MatchedBy — чем совпал кандидат.
type MatchedBy string

const (
	ByName    MatchedBy = "name"
	ByAlias   MatchedBy = "alias"
	ByAddress MatchedBy = "address"
	ByType    MatchedBy = "type"
	ByPartial MatchedBy = "partial"
	ByCreated MatchedBy = "created"
)

// Candidate — один кандидат совпадения.
type Candidate struct {
	ID         string
	Name       string
	Confidence float64
	MatchedBy  MatchedBy

	// priorityRank — ранг доменного атрибута (бо́льший — важнее);
	// topPriority — атрибут из топ-набора домена (partner/family, home/office,
	// active). recency — момент последней активности для разрешения ничьих.
	priorityRank int
	topPriority  bool
	recency      time.Time

	IsNew bool
}

// Match — итог поиска.
type Match struct {
	Found               bool
	Best                *Candidate
	Candidates          []Candidate
	NeedsDisambiguation bool
}

// scoreName применяет лестницу уверенности к основному имени.
func scoreName(query, name string) (float64, MatchedBy, bool) {
	q, n := strings.ToLower(strings.TrimSpace(query)), strings.ToLower(strings.TrimSpace(name))
	if q == "" || n == "" {
		return 0, "", false
	}
	switch {
	case n == q:
		return confExactName, ByName, true
	case strings.HasPrefix(n, q):
		return confPrefixName, ByName, true
	case strings.Contains(n, q):
		return confContainsName, ByName, true
	}
	if partialWordMatch(q, n) {
		return confPartial, ByPartial, true
	}
	return 0, "", false
}

// scoreAliases применяет ту же лестницу к алиасам с пониженными ступенями.
func scoreAliases(query string, aliases []string) (float64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0, false
	}

	best := 0.0
	for _, alias := range aliases {
		a := strings.ToLower(strings.TrimSpace(alias))
		if a == "" {
			continue
		}
		var score float64
		switch {
		case a == q:
			score = confExactAlias
		case strings.HasPrefix(a, q):
			score = confPrefixAlias
		case strings.Contains(a, q):
			score = confContainsAlias
		}
		if score > best {
			best = score
		}
	}
	return best, best > 0
}

// partialWordMatch сообщает, совпало ли какое-нибудь слово запроса со словом
// имени по границе слова.
func partialWordMatch(q, n string) bool {
	for _, qw := range strings.Fields(q) {
		for _, nw := range strings.Fields(n) {
			if qw == nw {
				return true
			}
		}
	}
	return false
}

// withPriorityBonus добавляет к уверенности бонус rank/1000 с потолком 1.0.
func withPriorityBonus(confidence float64, rank int) float64 {
	confidence += float64(rank) / priorityDivisor
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}

// decide применяет правила разрешения неоднозначности к списку кандидатов.
//
// Сортировка: уверенность по убыванию, затем свежесть, затем приоритет.
// Верхний кандидат с уверенностью ≥ 0.9 побеждает молча; иначе кандидат
// с топ-приоритетным атрибутом и уверенностью ≥ 0.7 предпочитается; иначе
// верхний возвращается с запросом на уточнение.
func decide(candidates []Candidate) Match {
	if len(candidates) == 0 {
		return Match{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if !candidates[i].recency.Equal(candidates[j].recency) {
			return candidates[i].recency.After(candidates[j].recency)
		}
		return candidates[i].priorityRank > candidates[j].priorityRank
	})

	if len(candidates) == 1 {
		return Match{Found: true, Best: &candidates[0], Candidates: candidates}
	}

	top := &candidates[0]
	if top.Confidence >= silentThreshold {
		return Match{Found: true, Best: top, Candidates: candidates}
	}

	for i := range candidates {
		if candidates[i].topPriority && candidates[i].Confidence >= priorityThreshold {
			return Match{Found: true, Best: &candidates[i], Candidates: candidates}
		}
	}

	return Match{Found: true, Best: top, Candidates: candidates, NeedsDisambiguation: true}
}

// recencyOf возвращает момент последней активности или нулевое время.
func recencyOf(ts ...*time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t != nil && t.After(out) {
			out = *t
		}
	}
	return out
}
