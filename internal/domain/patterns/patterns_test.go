package patterns_test

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/kb/kbtest"
	"second-brain/internal/domain/patterns"
)

var testNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func nowFn() time.Time { return testNow }

func correction(orig, fixed string) patterns.Correction {
	return patterns.Correction{
		Original:   orig,
		Corrected:  fixed,
		EntityType: kb.EntityPerson,
		At:         testNow,
	}
}

func TestRecordDetectsAfterThreshold(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	det := patterns.NewDetector(fake, nowFn)
	ctx := context.Background()

	if _, ok := det.Record(ctx, correction("Jess", "Tess")); ok {
		t.Fatal("первое исправление не должно давать правило")
	}
	if _, ok := det.Record(ctx, correction("Jess", "Tess")); ok {
		t.Fatal("второе исправление не должно давать правило")
	}

	found, ok := det.Record(ctx, correction("Jess", "Tess"))
	if !ok {
		t.Fatal("третье исправление должно дать правило")
	}
	if found.Trigger != "Jess" || found.Meaning != "Tess" {
		t.Fatalf("Detected = %+v", found)
	}
	if found.Occurrences != 3 {
		t.Fatalf("Occurrences = %d, want 3", found.Occurrences)
	}
	// База 50 + бонус единодушия 10.
	if found.Confidence != 60 {
		t.Fatalf("Confidence = %d, want 60", found.Confidence)
	}
	if found.Type != kb.PatternPerson {
		t.Fatalf("Type = %s, want person", found.Type)
	}

	// Правило сохранено через шлюз.
	rows, err := fake.QueryPatterns(ctx, kb.PatternQuery{})
	if err != nil {
		t.Fatalf("QueryPatterns: %v", err)
	}
	if len(rows) != 1 || rows[0].Trigger != "Jess" || rows[0].TimesConfirmed != 3 {
		t.Fatalf("сохранённые правила = %+v", rows)
	}
}

// Уверенность растёт с числом повторов и не превышает потолка.
func TestConfidenceMonotonicGrowth(t *testing.T) {
	t.Parallel()

	det := patterns.NewDetector(kbtest.NewFake(), nowFn)
	ctx := context.Background()

	prev := 0
	for i := 0; i < 12; i++ {
		det.Record(ctx, correction("Jess", "Tess"))
		all := det.Analyze()
		if len(all) == 0 {
			continue
		}
		got := all[0].Confidence
		if got < prev {
			t.Fatalf("уверенность упала: %d после %d", got, prev)
		}
		if got > 100 {
			t.Fatalf("уверенность выше потолка: %d", got)
		}
		prev = got
	}
	if prev != 100 {
		t.Fatalf("итоговая уверенность = %d, want 100", prev)
	}
}

func TestRecordNotReDetected(t *testing.T) {
	t.Parallel()

	det := patterns.NewDetector(kbtest.NewFake(), nowFn)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		det.Record(ctx, correction("Jess", "Tess"))
	}
	// Четвёртый повтор расширяет кластер, но заново правило не объявляет.
	if _, ok := det.Record(ctx, correction("Jess", "Tess")); ok {
		t.Fatal("повторная детекция уже объявленного правила")
	}
	if got := len(det.Pending()); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"tess", "tess", 1, 1},
		{"", "tess", 0, 0},
		{"tess", "less", 0.7, 0.8},
		{"abc", "xyz", 0, 0},
	}
	for _, tc := range cases {
		got := patterns.Similarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Fatalf("Similarity(%q, %q) = %v, want [%v, %v]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

func TestApplyRewritesPersonAndTitle(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	if _, err := fake.CreatePattern(ctx, kb.Pattern{
		Trigger:    "Jess",
		Meaning:    "Tess",
		Confidence: 85,
		Type:       kb.PatternPerson,
	}); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	app := patterns.NewApplicator(fake, nowFn)
	if err := app.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	entities := extract.Entities{
		People: []extract.Candidate{{Name: "Jess", Confidence: 90}},
	}
	title, applied := app.Apply("call Jess tomorrow", &entities)

	if title != "call Tess tomorrow" {
		t.Fatalf("title = %q", title)
	}
	if entities.People[0].Name != "Tess" {
		t.Fatalf("person = %q, want Tess", entities.People[0].Name)
	}
	if len(applied) != 1 || applied[0].Field != "person" {
		t.Fatalf("applied = %+v", applied)
	}
}

// Руны, меняющие байтовую длину при смене регистра, не должны ломать
// замену в заголовке: результат всегда корректный UTF-8 без лишних байтов.
func TestApplyLengthChangingFold(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	if _, err := fake.CreatePattern(ctx, kb.Pattern{
		Trigger:    "bob",
		Meaning:    "Robert",
		Confidence: 80,
		Type:       kb.PatternPerson,
	}); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	app := patterns.NewApplicator(fake, nowFn)
	if err := app.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"dotted capital I before match", "İBob", "İRobert"},
		{"two-byte rune with longer lower form", "Ⱥ Bob", "Ⱥ Robert"},
		{"fold after the match", "call BOB re İstanbul", "call Robert re İstanbul"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			entities := extract.Entities{
				People: []extract.Candidate{{Name: "Bob", Confidence: 90}},
			}
			title, _ := app.Apply(tt.title, &entities)
			if title != tt.want {
				t.Fatalf("title = %q, want %q", title, tt.want)
			}
			if !utf8.ValidString(title) {
				t.Fatalf("title %q — некорректный UTF-8", title)
			}
		})
	}
}

// Правила ниже порога автоприменения в кэш не попадают.
func TestRefreshSkipsLowConfidence(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	if _, err := fake.CreatePattern(ctx, kb.Pattern{
		Trigger:    "Jess",
		Meaning:    "Tess",
		Confidence: 60,
	}); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	app := patterns.NewApplicator(fake, nowFn)
	if err := app.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(app.Cached()); got != 0 {
		t.Fatalf("Cached = %d, want 0", got)
	}

	entities := extract.Entities{People: []extract.Candidate{{Name: "Jess"}}}
	title, applied := app.Apply("call Jess", &entities)
	if title != "call Jess" || len(applied) != 0 {
		t.Fatalf("Apply переписал при пустом кэше: %q %+v", title, applied)
	}
}

func TestApplyTitleOnlyMatch(t *testing.T) {
	t.Parallel()

	fake := kbtest.NewFake()
	ctx := context.Background()

	if _, err := fake.CreatePattern(ctx, kb.Pattern{
		Trigger:    "grocery run",
		Meaning:    "weekly groceries at Safeway",
		Confidence: 90,
		Type:       kb.PatternName,
	}); err != nil {
		t.Fatalf("CreatePattern: %v", err)
	}

	app := patterns.NewApplicator(fake, nowFn)
	if err := app.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var entities extract.Entities
	title, applied := app.Apply("Grocery run before noon", &entities)

	// Заголовок не переписывается, но совпадение фиксируется.
	if title != "Grocery run before noon" {
		t.Fatalf("title = %q", title)
	}
	if len(applied) != 1 || applied[0].Field != "title" {
		t.Fatalf("applied = %+v", applied)
	}
}
