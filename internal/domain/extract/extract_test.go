package extract_test

import (
	"testing"
	"time"

	"second-brain/internal/domain/extract"
	"second-brain/internal/domain/timeparse"
)

func testParser(t *testing.T) *timeparse.Parser {
	t.Helper()

	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, loc)
	p, err := timeparse.New("America/Los_Angeles", func() time.Time { return now })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestExtractStrategies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		text       string
		wantPeople []extract.Candidate
		wantPlaces []extract.Candidate
		wantDates  int
	}{
		{
			name: "withMarker",
			text: "Meet with Sarah tomorrow at the Mall",
			wantPeople: []extract.Candidate{
				{Name: "Sarah", Confidence: 90, Context: "with Sarah"},
			},
			wantPlaces: []extract.Candidate{
				{Name: "Mall", Confidence: 80, Context: "at the Mall"},
			},
			wantDates: 1,
		},
		{
			name: "actionVerb",
			text: "call Alex about the invoice",
			wantPeople: []extract.Candidate{
				{Name: "Alex", Confidence: 85, Context: "call Alex"},
			},
		},
		{
			name: "twoWordName",
			text: "lunch with Sarah Chen on friday",
			wantPeople: []extract.Candidate{
				{Name: "Sarah Chen", Confidence: 90, Context: "with Sarah Chen"},
			},
			wantDates: 1,
		},
		{
			name: "bareProperNoun",
			text: "ping Bob later",
			wantPeople: []extract.Candidate{
				{Name: "Bob", Confidence: 60, Context: "ping Bob later"},
			},
		},
		{
			name: "prepositionBlocksBareNoun",
			text: "go to Starbucks",
		},
		{
			name: "stopwordIsNotPerson",
			text: "meet Tomorrow at 2pm",
			wantDates: 1,
		},
		{
			name: "placeMarker",
			text: "heading to Blue Bottle with Alex",
			wantPeople: []extract.Candidate{
				{Name: "Alex", Confidence: 90, Context: "with Alex"},
			},
			wantPlaces: []extract.Candidate{
				{Name: "Blue Bottle", Confidence: 80, Context: "heading to Blue Bottle"},
			},
		},
		{
			name: "sentenceStartIsNotSignal",
			text: "Emailed the vendor. Nothing urgent",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := extract.Extract(tc.text, testParser(t))
			assertCandidates(t, "People", got.People, tc.wantPeople)
			assertCandidates(t, "Places", got.Places, tc.wantPlaces)
			if len(got.Dates) != tc.wantDates {
				t.Fatalf("Dates = %d, want %d", len(got.Dates), tc.wantDates)
			}
		})
	}
}

func assertCandidates(t *testing.T, label string, got, want []extract.Candidate) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("%s = %+v, want %+v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s[%d] = %+v, want %+v", label, i, got[i], want[i])
		}
	}
}

// Повторные упоминания не плодят дублей: остаётся максимальная уверенность.
func TestExtractDeduplicatesPeople(t *testing.T) {
	t.Parallel()

	got := extract.Extract("Call Sarah, then lunch with Sarah", nil)
	if len(got.People) != 1 {
		t.Fatalf("People = %+v, want один кандидат", got.People)
	}
	if got.People[0].Confidence != 90 {
		t.Fatalf("Confidence = %d, want 90", got.People[0].Confidence)
	}
}

func TestExtractNilParserSkipsDates(t *testing.T) {
	t.Parallel()

	got := extract.Extract("call Alex tomorrow 2pm", nil)
	if got.HasDate() {
		t.Fatal("HasDate() = true, want false без парсера")
	}
	if _, ok := got.FirstDate(); ok {
		t.Fatal("FirstDate() = ok, want отсутствие")
	}
	if names := got.PeopleNames(); len(names) != 1 || names[0] != "Alex" {
		t.Fatalf("PeopleNames() = %v, want [Alex]", names)
	}
}
