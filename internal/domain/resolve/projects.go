package resolve

import (
	"context"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
)

// projectStatusRank — приоритет статуса проекта: активные предпочитаются.
var projectStatusRank = map[kb.ProjectStatus]int{
	kb.ProjectActive:    4,
	kb.ProjectPaused:    3,
	kb.ProjectCompleted: 2,
	kb.ProjectCancelled: 1,
}

// Projects ищет и создаёт проекты.
type Projects struct {
	gw kb.Gateway
}

// NewProjects создаёт сервис проектов поверх шлюза.
func NewProjects(gw kb.Gateway) *Projects {
	return &Projects{gw: gw}
}

// Lookup ищет проект по имени; активные получают приоритетный бонус и
// предпочтение при неоднозначности.
func (p *Projects) Lookup(ctx context.Context, name string) (Match, error) {
	if name == "" {
		return Match{}, nil
	}

	rows, err := p.gw.QueryProjects(ctx, kb.ProjectQuery{Name: firstToken(name)})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: query projects")
	}

	var candidates []Candidate
	for _, project := range rows {
		score, by, ok := scoreName(name, project.Name)
		if !ok {
			continue
		}

		rank := projectStatusRank[project.Status]
		candidates = append(candidates, Candidate{
			ID:           project.ID,
			Name:         project.Name,
			Confidence:   withPriorityBonus(score, rank),
			MatchedBy:    by,
			priorityRank: rank,
			topPriority:  project.Status == kb.ProjectActive,
			recency:      recencyOf(&project.CreatedAt),
		})
	}

	return decide(candidates), nil
}

// LookupOrCreate ищет проект; при отсутствии создаёт активный личный проект.
func (p *Projects) LookupOrCreate(ctx context.Context, name, note string) (Match, error) {
	match, err := p.Lookup(ctx, name)
	if err != nil {
		return Match{}, err
	}
	if match.Found {
		return match, nil
	}

	project, err := p.gw.CreateProject(ctx, kb.Project{
		Name:   name,
		Type:   kb.ProjectPersonal,
		Status: kb.ProjectActive,
		Notes:  note,
	})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: create project")
	}

	created := Candidate{
		ID:         project.ID,
		Name:       project.Name,
		Confidence: confExactName,
		MatchedBy:  ByCreated,
		IsNew:      true,
	}
	return Match{Found: true, Best: &created, Candidates: []Candidate{created}}, nil
}
