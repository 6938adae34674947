// Package link — связывание извлечённых сущностей с записями базы знаний.
// Чистая оркестрация над сервисами resolve: на входе кандидаты экстрактора,
// на выходе пучок идентификаторов связей с комбинированной уверенностью
// (уверенность извлечения × уверенность совпадения). Сам пакет ничего не
// извлекает и не сохраняет сверх того, что делают сервисы resolve.
package link

import (
	"context"

	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/resolve"
)

// Entity — одна связанная сущность.
type Entity struct {
	ID   string
	Type kb.EntityType
	Name string

	// Confidence — произведение уверенности извлечения (0–1 после нормировки)
	// и уверенности совпадения.
	Confidence          float64
	IsNew               bool
	NeedsDisambiguation bool
}

// Linked — пучок связей для одной задачи.
type Linked struct {
	People  []Entity
	Places  []Entity
	Project *Entity

	// NeedsReview — хотя бы одна связь требует уточнения у пользователя.
	NeedsReview bool
	// NewCount — сколько записей создано в ходе связывания.
	NewCount int
}

// PeopleIDs возвращает идентификаторы связанных людей.
func (l Linked) PeopleIDs() []string {
	out := make([]string, 0, len(l.People))
	for _, e := range l.People {
		out = append(out, e.ID)
	}
	return out
}

// PlaceIDs возвращает идентификаторы связанных мест.
func (l Linked) PlaceIDs() []string {
	out := make([]string, 0, len(l.Places))
	for _, e := range l.Places {
		out = append(out, e.ID)
	}
	return out
}

// ProjectID возвращает идентификатор проекта или пустую строку.
func (l Linked) ProjectID() string {
	if l.Project == nil {
		return ""
	}
	return l.Project.ID
}

// Linker связывает кандидатов с базой знаний через сервисы resolve.
type Linker struct {
	people   *resolve.People
	places   *resolve.Places
	projects *resolve.Projects
}

// New создаёт линкер.
func New(people *resolve.People, places *resolve.Places, projects *resolve.Projects) *Linker {
	return &Linker{people: people, places: places, projects: projects}
}

// Relations связывает извлечённых кандидатов и, если задано, проект.
// createMissing создаёт отсутствующие записи; без него несопоставленные
// кандидаты просто выпадают из пучка.
func (l *Linker) Relations(ctx context.Context, entities extract.Entities, projectName string, createMissing bool) (Linked, error) {
	var out Linked

	for _, cand := range entities.People {
		match, err := l.lookupPerson(ctx, cand, createMissing)
		if err != nil {
			return Linked{}, err
		}
		if match.Found {
			out.People = append(out.People, fromMatch(match, kb.EntityPerson, cand.Confidence))
		}
	}

	for _, cand := range entities.Places {
		match, err := l.lookupPlace(ctx, cand, createMissing)
		if err != nil {
			return Linked{}, err
		}
		if match.Found {
			out.Places = append(out.Places, fromMatch(match, kb.EntityPlace, cand.Confidence))
		}
	}

	if projectName != "" {
		match, err := l.lookupProject(ctx, projectName, createMissing)
		if err != nil {
			return Linked{}, err
		}
		if match.Found {
			proj := fromMatch(match, kb.EntityProject, 100)
			out.Project = &proj
		}
	}

	for _, e := range out.People {
		out.tally(e)
	}
	for _, e := range out.Places {
		out.tally(e)
	}
	if out.Project != nil {
		out.tally(*out.Project)
	}

	return out, nil
}

func (l *Linker) lookupPerson(ctx context.Context, cand extract.Candidate, create bool) (resolve.Match, error) {
	if create {
		return l.people.LookupOrCreate(ctx, cand.Name, cand.Context)
	}
	return l.people.Lookup(ctx, cand.Name)
}

func (l *Linker) lookupPlace(ctx context.Context, cand extract.Candidate, create bool) (resolve.Match, error) {
	if create {
		return l.places.LookupOrCreate(ctx, cand.Name, "", cand.Context)
	}
	return l.places.Lookup(ctx, cand.Name, "")
}

func (l *Linker) lookupProject(ctx context.Context, name string, create bool) (resolve.Match, error) {
	if create {
		return l.projects.LookupOrCreate(ctx, name, "")
	}
	return l.projects.Lookup(ctx, name)
}

// fromMatch переводит результат resolve в связь с комбинированной уверенностью.
func fromMatch(match resolve.Match, entity kb.EntityType, extractionConfidence int) Entity {
	best := match.Best
	return Entity{
		ID:                  best.ID,
		Type:                entity,
		Name:                best.Name,
		Confidence:          float64(extractionConfidence) / 100 * best.Confidence,
		IsNew:               best.IsNew,
		NeedsDisambiguation: match.NeedsDisambiguation,
	}
}

// tally обновляет сводные счётчики пучка.
func (l *Linked) tally(e Entity) {
	if e.NeedsDisambiguation {
		l.NeedsReview = true
	}
	if e.IsNew {
		l.NewCount++
	}
}
