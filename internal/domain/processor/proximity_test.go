package processor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"second-brain/internal/adapters/extsvc"
	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/processor"
	"second-brain/internal/domain/resolve"
)

// stubMaps геокодирует всё в одну точку и отвечает фиксированным временем
// в пути. Потокобезопасен: состояния нет.
type stubMaps struct {
	origin    resolve.Geocoded
	travelErr error
	lastQuery string
}

func (m *stubMaps) Geocode(_ context.Context, query string) (resolve.Geocoded, error) {
	m.lastQuery = query
	return m.origin, nil
}

func (m *stubMaps) TravelTime(_ context.Context, _, _ resolve.Geocoded) (extsvc.TravelEstimate, error) {
	if m.travelErr != nil {
		return extsvc.TravelEstimate{}, m.travelErr
	}
	return extsvc.TravelEstimate{Duration: 12 * time.Minute, Mode: "walking"}, nil
}

func TestProximityQueryDetection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"what's near the office?", "the office", true},
		{"near Ferry Building", "Ferry Building", true},
		{"tasks near home", "home", true},
		{"What can I do near me?", "me", true},
		{"nearly done with this", "", false},
		{"buy milk near the station tomorrow", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			reply, err := newFixture(t).proc.Process(context.Background(), env("1", tc.text))
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			// Без настроенных карт совпадение детектора видно по ответу-отказу.
			gotProximity := strings.Contains(reply, "Maps are not configured")
			if gotProximity != tc.ok {
				t.Fatalf("proximity(%q): reply = %q", tc.text, reply)
			}
		})
	}
}

func TestProximityListsNearbyTasks(t *testing.T) {
	t.Parallel()

	maps := &stubMaps{origin: resolve.Geocoded{Lat: 37.7897, Lng: -122.4011}}
	f := newFixture(t, func(d *processor.Deps, _ *processor.Options) {
		d.Maps = maps
	})
	ctx := context.Background()

	near, err := f.fake.CreatePlace(ctx, kb.Place{
		Name: "Ferry Building",
		Geo:  &kb.GeoPoint{Lat: 37.7955, Lng: -122.3937},
	})
	if err != nil {
		t.Fatalf("CreatePlace: %v", err)
	}
	far, err := f.fake.CreatePlace(ctx, kb.Place{
		Name: "Ocean Beach",
		Geo:  &kb.GeoPoint{Lat: 37.7594, Lng: -122.5107},
	})
	if err != nil {
		t.Fatalf("CreatePlace: %v", err)
	}

	seed := []kb.Task{
		{Title: "grab empanadas", Status: kb.TaskTodo, PlaceIDs: []string{near.ID}},
		{Title: "watch the sunset", Status: kb.TaskTodo, PlaceIDs: []string{far.ID}},
		{Title: "file taxes", Status: kb.TaskTodo},
	}
	for _, task := range seed {
		if _, err := f.fake.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	reply, err := f.proc.Process(ctx, env("1", "what's near the office?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.HasPrefix(reply, "Near the office:") {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(reply, "grab empanadas (Ferry Building, ") {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(reply, "12 min walking") {
		t.Fatalf("reply = %q", reply)
	}
	// Место за радиусом и задача без места в список не попадают.
	if strings.Contains(reply, "watch the sunset") || strings.Contains(reply, "file taxes") {
		t.Fatalf("reply = %q", reply)
	}
	if maps.lastQuery != "the office" {
		t.Fatalf("Geocode query = %q", maps.lastQuery)
	}
}

func TestProximityNearMeUsesHomeAddress(t *testing.T) {
	t.Parallel()

	maps := &stubMaps{origin: resolve.Geocoded{Lat: 37.7897, Lng: -122.4011}}
	f := newFixture(t, func(d *processor.Deps, o *processor.Options) {
		d.Maps = maps
		o.HomeAddress = "500 Hayes St, San Francisco"
	})

	reply, err := f.proc.Process(context.Background(), env("1", "what's near me?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(reply, "Nothing to do within 5 km of me") {
		t.Fatalf("reply = %q", reply)
	}
	if maps.lastQuery != "500 Hayes St, San Francisco" {
		t.Fatalf("Geocode query = %q", maps.lastQuery)
	}
}

func TestProximityNearMeWithoutHome(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *processor.Deps, _ *processor.Options) {
		d.Maps = &stubMaps{}
	})
	reply, err := f.proc.Process(context.Background(), env("1", "near me"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(reply, "I don't know where home is") {
		t.Fatalf("reply = %q", reply)
	}
}
