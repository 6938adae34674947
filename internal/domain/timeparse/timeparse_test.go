package timeparse_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"second-brain/internal/domain/timeparse"
)

// Опорный момент тестов: среда 2026-03-04, 10:00 в Лос-Анджелесе.
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

func TestParseFragments(t *testing.T) {
	t.Parallel()

	la := "America/Los_Angeles"
	cases := []struct {
		name     string
		text     string
		want     string
		wantZone string
	}{
		{name: "tomorrowWithTime", text: "call mom tomorrow 2pm", want: "2026-03-05T14:00:00-08:00", wantZone: la},
		{name: "tomorrowBare", text: "buy milk tomorrow", want: "2026-03-05T09:00:00-08:00", wantZone: la},
		{name: "todayFutureTime", text: "draft today 5pm", want: "2026-03-04T17:00:00-08:00", wantZone: la},
		{name: "bareTimeFuture", text: "standup 11:30", want: "2026-03-04T11:30:00-08:00", wantZone: la},
		{name: "bareTimePassedRollsOver", text: "gym 8am", want: "2026-03-05T08:00:00-08:00", wantZone: la},
		{name: "weekdayAhead", text: "review friday", want: "2026-03-06T09:00:00-08:00", wantZone: la},
		{name: "weekdayTodayPassedSkipsWeek", text: "sync wednesday 9am", want: "2026-03-11T09:00:00-07:00", wantZone: la},
		{name: "relativeHours", text: "remind me in 2 hours", want: "2026-03-04T12:00:00-08:00", wantZone: la},
		{name: "relativeWeeks", text: "follow up in 1 week", want: "2026-03-11T10:00:00-07:00", wantZone: la},
		{name: "noonTwelvePm", text: "lunch 12pm", want: "2026-03-04T12:00:00-08:00", wantZone: la},
		{name: "explicitZoneOverrides", text: "call at 9pm EST", want: "2026-03-04T21:00:00-05:00", wantZone: "America/New_York"},
		// 10:00 в Лос-Анджелесе — уже следующий день в Токио.
		{name: "zoneAfterDayWord", text: "demo tomorrow jst", want: "2026-03-06T09:00:00+09:00", wantZone: "Asia/Tokyo"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, ok := testParser(t).Parse(tc.text)
			if !ok {
				t.Fatalf("Parse(%q) = не найден, want %s", tc.text, tc.want)
			}
			if got := res.At.Format(time.RFC3339); got != tc.want {
				t.Fatalf("Parse(%q).At = %s, want %s", tc.text, got, tc.want)
			}
			if res.ZoneName != tc.wantZone {
				t.Fatalf("Parse(%q).ZoneName = %s, want %s", tc.text, res.ZoneName, tc.wantZone)
			}
		})
	}
}

func TestParseNoFragment(t *testing.T) {
	t.Parallel()

	cases := []string{
		"just a plain note",
		"meet at the office",
		// Голое число без am/pm и двоеточия временем не считается.
		"order 12 chairs",
	}
	for _, text := range cases {
		if _, ok := testParser(t).Parse(text); ok {
			t.Fatalf("Parse(%q) = найден, want отсутствие фрагмента", text)
		}
	}
}

func TestZoneForAbbreviation(t *testing.T) {
	t.Parallel()

	if name, ok := timeparse.ZoneForAbbreviation("  PST "); !ok || name != "America/Los_Angeles" {
		t.Fatalf("ZoneForAbbreviation(PST) = %q, %v", name, ok)
	}
	if _, ok := timeparse.ZoneForAbbreviation("xyz"); ok {
		t.Fatal("ZoneForAbbreviation(xyz) = ok, want отказ")
	}
}

func TestNewUnknownZone(t *testing.T) {
	t.Parallel()

	if _, err := timeparse.New("Mars/Olympus", nil); err == nil {
		t.Fatal("New(Mars/Olympus) = nil, want error")
	}
}

func TestISORoundTripProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Format/ParseISO сохраняет инстант", prop.ForAll(
		func(sec int64) bool {
			at := time.Unix(sec, 0).UTC()
			back, err := timeparse.ParseISO(timeparse.Format(at))
			return err == nil && back.Equal(at)
		},
		gen.Int64Range(0, 4102444800), // до 2100 года
	))

	properties.TestingRun(t)
}
