package resolve

import (
	"context"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
)

// relationshipRank — приоритет типа связи при неоднозначности.
var relationshipRank = map[kb.Relationship]int{
	kb.RelPartner:      5,
	kb.RelFamily:       4,
	kb.RelFriend:       3,
	kb.RelColleague:    2,
	kb.RelAcquaintance: 1,
}

// topRelationship — атрибуты, дающие предпочтение при уверенности ≥ 0.7.
var topRelationship = map[kb.Relationship]bool{
	kb.RelPartner: true,
	kb.RelFamily:  true,
}

// People ищет и создаёт людей.
type People struct {
	gw kb.Gateway
}

// NewPeople создаёт сервис людей поверх шлюза.
func NewPeople(gw kb.Gateway) *People {
	return &People{gw: gw}
}

// Lookup ищет человека по имени с нечётким совпадением по имени и алиасам.
func (p *People) Lookup(ctx context.Context, name string) (Match, error) {
	if name == "" {
		return Match{}, nil
	}

	rows, err := p.gw.QueryPeople(ctx, kb.PersonQuery{Name: firstToken(name)})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: query people")
	}

	var candidates []Candidate
	for _, person := range rows {
		score, by, ok := scoreName(name, person.Name)
		if aliasScore, aliasOK := scoreAliases(name, person.Aliases); aliasOK && aliasScore > score {
			score, by, ok = aliasScore, ByAlias, true
		}
		if !ok {
			continue
		}

		rank := relationshipRank[person.Relationship]
		candidates = append(candidates, Candidate{
			ID:           person.ID,
			Name:         person.Name,
			Confidence:   withPriorityBonus(score, rank),
			MatchedBy:    by,
			priorityRank: rank,
			topPriority:  topRelationship[person.Relationship],
			recency:      recencyOf(person.LastContact, &person.CreatedAt),
		})
	}

	return decide(candidates), nil
}

// LookupOrCreate ищет человека; при отсутствии создаёт запись с отношением
// «знакомый» и возвращает её с IsNew. note попадает в заметки новой записи.
func (p *People) LookupOrCreate(ctx context.Context, name, note string) (Match, error) {
	match, err := p.Lookup(ctx, name)
	if err != nil {
		return Match{}, err
	}
	if match.Found {
		return match, nil
	}

	person, err := p.gw.CreatePerson(ctx, kb.Person{
		Name:         name,
		Relationship: kb.RelAcquaintance,
		Notes:        note,
	})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: create person")
	}

	created := Candidate{
		ID:         person.ID,
		Name:       person.Name,
		Confidence: confExactName,
		MatchedBy:  ByCreated,
		IsNew:      true,
	}
	return Match{Found: true, Best: &created, Candidates: []Candidate{created}}, nil
}

// firstToken сужает серверную выборку до первого слова запроса: нечёткое
// сравнение всё равно выполняется на клиенте по полному имени.
func firstToken(name string) string {
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}
