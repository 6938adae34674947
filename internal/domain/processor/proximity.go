package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"second-brain/internal/domain/kb"
	"second-brain/internal/domain/resolve"
	"second-brain/internal/infra/logger"
)

// Детекторы запроса «что рядом». Захват — упомянутое место.
var proximityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what can i do near (.+?)\??$`),
	regexp.MustCompile(`(?i)^(?:tasks|anything|things to do) near (.+?)\??$`),
	regexp.MustCompile(`(?i)^what'?s near (.+?)\??$`),
	regexp.MustCompile(`(?i)^near (.+?)\??$`),
}

// travelWorkers — ширина пула аннотации временем в пути.
const travelWorkers = 4

// proximityQuery распознаёт запрос близости и возвращает упомянутое место.
// "me" и "here" означают домашний адрес.
func proximityQuery(text string) (string, bool) {
	for _, re := range proximityPatterns {
		if m := re.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// nearbyTask — активная задача с местом в радиусе запроса.
type nearbyTask struct {
	task     kb.Task
	place    kb.Place
	distance float64 // км
	travel   string  // аннотация времени в пути, может быть пустой
}

// handleProximity отвечает на запрос «что рядом»: геокодирует точку отсчёта,
// меряет расстояние Хаверсина до мест активных задач и выдаёт их по
// возрастанию в пределах радиуса.
func (p *Processor) handleProximity(ctx context.Context, locationText string) (string, error) {
	if p.deps.Maps == nil {
		return "Maps are not configured, so I can't check what's nearby.", nil
	}

	query := locationText
	if lower := strings.ToLower(locationText); lower == "me" || lower == "here" {
		if p.opts.HomeAddress == "" {
			return "I don't know where home is. Set your home address first.", nil
		}
		query = p.opts.HomeAddress
	}

	origin, err := p.deps.Maps.Geocode(ctx, query)
	if err != nil {
		return "", errors.Wrap(err, "proximity: geocode origin")
	}

	tasks, err := p.deps.Gateway.QueryTasks(ctx, kb.TaskQuery{
		ExcludeStatuses: []kb.TaskStatus{kb.TaskDone, kb.TaskCancelled, kb.TaskDeleted},
	})
	if err != nil {
		return "", errors.Wrap(err, "proximity: query tasks")
	}

	places, err := p.deps.Gateway.QueryPlaces(ctx, kb.PlaceQuery{})
	if err != nil {
		return "", errors.Wrap(err, "proximity: query places")
	}
	byID := make(map[string]kb.Place, len(places))
	for _, pl := range places {
		byID[pl.ID] = pl
	}

	var nearby []nearbyTask
	for _, task := range tasks {
		for _, placeID := range task.PlaceIDs {
			place, ok := byID[placeID]
			if !ok || place.Geo == nil {
				continue
			}
			d := haversineKM(origin.Lat, origin.Lng, place.Geo.Lat, place.Geo.Lng)
			if d > p.opts.ProximityRadiusKM {
				continue
			}
			nearby = append(nearby, nearbyTask{task: task, place: place, distance: d})
			break
		}
	}
	if len(nearby) == 0 {
		return fmt.Sprintf("Nothing to do within %.0f km of %s.", p.opts.ProximityRadiusKM, locationText), nil
	}

	p.annotateTravel(ctx, origin, nearby)

	sort.Slice(nearby, func(i, j int) bool { return nearby[i].distance < nearby[j].distance })

	var b strings.Builder
	fmt.Fprintf(&b, "Near %s:\n", locationText)
	for _, n := range nearby {
		fmt.Fprintf(&b, "- %s (%s, %.1f km", n.task.Title, n.place.Name, n.distance)
		if n.travel != "" {
			b.WriteString(", " + n.travel)
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// annotateTravel добавляет время в пути параллельно, ограниченным пулом.
// Ошибки карт не мешают ответу: аннотация просто опускается.
func (p *Processor) annotateTravel(ctx context.Context, origin resolve.Geocoded, nearby []nearbyTask) {
	var g errgroup.Group
	g.SetLimit(travelWorkers)

	// Каждая горутина пишет только в свой элемент среза.
	for i := range nearby {
		g.Go(func() error {
			dest := resolve.Geocoded{
				Lat: nearby[i].place.Geo.Lat,
				Lng: nearby[i].place.Geo.Lng,
			}
			est, err := p.deps.Maps.TravelTime(ctx, origin, dest)
			if err != nil {
				logger.Debugf("proximity: travel time to %s: %v", nearby[i].place.Name, err)
				return nil
			}
			nearby[i].travel = fmt.Sprintf("%d min %s", int(est.Duration.Minutes()), est.Mode)
			return nil
		})
	}
	_ = g.Wait()
}

// haversineKM — расстояние между двумя точками на сфере Земли в километрах.
func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
