package link_test

import (
	"context"
	"math"
	"testing"

	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/link"
	"second-brain/internal/domain/resolve"
)

func newLinker(fake *kbtest.Fake) *link.Linker {
	return link.New(
		resolve.NewPeople(fake),
		resolve.NewPlaces(fake, nil),
		resolve.NewProjects(fake),
	)
}

func TestRelationsLinksExisting(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	person, err := fake.CreatePerson(ctx, kb.Person{Name: "Sarah"})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	place, err := fake.CreatePlace(ctx, kb.Place{Name: "Balboa Theater", Type: kb.PlaceCinema})
	if err != nil {
		t.Fatalf("CreatePlace: %v", err)
	}

	entities := extract.Entities{
		People: []extract.Candidate{{Name: "Sarah", Confidence: 90}},
		Places: []extract.Candidate{{Name: "Balboa Theater", Confidence: 80}},
	}

	linked, err := newLinker(fake).Relations(ctx, entities, "", false)
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}

	if got := linked.PeopleIDs(); len(got) != 1 || got[0] != person.ID {
		t.Fatalf("PeopleIDs = %v, want [%s]", got, person.ID)
	}
	if got := linked.PlaceIDs(); len(got) != 1 || got[0] != place.ID {
		t.Fatalf("PlaceIDs = %v, want [%s]", got, place.ID)
	}
	if linked.NeedsReview || linked.NewCount != 0 {
		t.Fatalf("Linked = %+v", linked)
	}

	// Комбинированная уверенность: извлечение 0.9 × точное совпадение 1.0.
	if got := linked.People[0].Confidence; math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("person Confidence = %v, want 0.9", got)
	}
}

func TestRelationsCreatesMissing(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	entities := extract.Entities{
		People: []extract.Candidate{{Name: "Marcus", Confidence: 90, Context: "with Marcus"}},
	}

	linked, err := newLinker(fake).Relations(ctx, entities, "Garden overhaul", true)
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}

	if len(linked.People) != 1 || !linked.People[0].IsNew {
		t.Fatalf("People = %+v", linked.People)
	}
	if linked.Project == nil || !linked.Project.IsNew {
		t.Fatalf("Project = %+v", linked.Project)
	}
	if linked.ProjectID() == "" {
		t.Fatal("ProjectID пустой")
	}
	if linked.NewCount != 2 {
		t.Fatalf("NewCount = %d, want 2", linked.NewCount)
	}
}

// Без createMissing несопоставленные кандидаты просто выпадают.
func TestRelationsDropsUnmatched(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	entities := extract.Entities{
		People: []extract.Candidate{{Name: "Nobody", Confidence: 60}},
	}

	linked, err := newLinker(fake).Relations(context.Background(), entities, "", false)
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}
	if len(linked.People) != 0 || linked.ProjectID() != "" {
		t.Fatalf("Linked = %+v", linked)
	}
}

func TestRelationsFlagsReview(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()
	for _, name := range []string{"Mike Alexander", "Anna Alexis"} {
		if _, err := fake.CreatePerson(ctx, kb.Person{Name: name, Relationship: kb.RelAcquaintance}); err != nil {
			t.Fatalf("CreatePerson: %v", err)
		}
	}

	entities := extract.Entities{
		People: []extract.Candidate{{Name: "Alex", Confidence: 85}},
	}

	linked, err := newLinker(fake).Relations(ctx, entities, "", false)
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}
	if !linked.NeedsReview {
		t.Fatalf("Linked = %+v, want NeedsReview", linked)
	}
	if len(linked.People) != 1 || !linked.People[0].NeedsDisambiguation {
		t.Fatalf("People = %+v", linked.People)
	}
}
