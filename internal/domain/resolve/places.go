package resolve

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"second-brain/internal/domain/kb"
	"second-brain/internal/infra/logger"
	"second-brain/internal/shared/fault"
)

// placeTypeRank — приоритет типа места при неоднозначности.
var placeTypeRank = map[kb.PlaceType]int{
	kb.PlaceHome:       6,
	kb.PlaceOffice:     5,
	kb.PlaceRestaurant: 4,
	kb.PlaceCinema:     3,
	kb.PlaceVenue:      2,
	kb.PlaceOther:      1,
}

// topPlaceType — типы, дающие предпочтение при уверенности ≥ 0.7.
var topPlaceType = map[kb.PlaceType]bool{
	kb.PlaceHome:   true,
	kb.PlaceOffice: true,
}

// Geocoded — результат геокодирования адреса или названия места.
type Geocoded struct {
	Address string
	Lat     float64
	Lng     float64
	PlaceID string
}

// Geocoder — клиент карт: название или адрес → координаты и внешний id.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Geocoded, error)
}

// Places ищет, создаёт и обогащает места.
type Places struct {
	gw       kb.Gateway
	geocoder Geocoder // nil — обогащение выключено
}

// NewPlaces создаёт сервис мест. geocoder может быть nil.
func NewPlaces(gw kb.Gateway, geocoder Geocoder) *Places {
	return &Places{gw: gw, geocoder: geocoder}
}

// Lookup ищет место по имени и, опционально, типу. В лестницу уверенности
// добавлена ступень совпадения по адресу (0.6).
func (p *Places) Lookup(ctx context.Context, name string, placeType kb.PlaceType) (Match, error) {
	if name == "" {
		return Match{}, nil
	}

	rows, err := p.gw.QueryPlaces(ctx, kb.PlaceQuery{Name: firstToken(name), Type: placeType})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: query places")
	}

	var candidates []Candidate
	for _, place := range rows {
		score, by, ok := scoreName(name, place.Name)
		if !ok && containsFold(place.Address, name) {
			score, by, ok = confAddress, ByAddress, true
		}
		if !ok {
			continue
		}

		rank := placeTypeRank[place.Type]
		candidates = append(candidates, Candidate{
			ID:           place.ID,
			Name:         place.Name,
			Confidence:   withPriorityBonus(score, rank),
			MatchedBy:    by,
			priorityRank: rank,
			topPriority:  topPlaceType[place.Type],
			recency:      recencyOf(place.LastVisit, &place.CreatedAt),
		})
	}

	return decide(candidates), nil
}

// LookupOrCreate ищет место; при отсутствии создаёт запись типа «other»
// (либо заданного типа) и сразу пытается обогатить её геоданными.
func (p *Places) LookupOrCreate(ctx context.Context, name string, placeType kb.PlaceType, note string) (Match, error) {
	match, err := p.Lookup(ctx, name, placeType)
	if err != nil {
		return Match{}, err
	}
	if match.Found {
		return match, nil
	}

	if placeType == "" {
		placeType = kb.PlaceOther
	}
	place, err := p.gw.CreatePlace(ctx, kb.Place{
		Name:  name,
		Type:  placeType,
		Notes: note,
	})
	if err != nil {
		return Match{}, errors.Wrap(err, "resolve: create place")
	}

	if err := p.Enrich(ctx, place); err != nil {
		// Обогащение — не условие успеха: место уже создано.
		logger.Debugf("resolve: enrich place %q: %v", place.Name, err)
	}

	created := Candidate{
		ID:         place.ID,
		Name:       place.Name,
		Confidence: confExactName,
		MatchedBy:  ByCreated,
		IsNew:      true,
	}
	return Match{Found: true, Best: &created, Candidates: []Candidate{created}}, nil
}

// Enrich дозаполняет место геоданными через клиент карт и сохраняет их.
// Не более одного раза на запись: уже геокодированные места пропускаются.
func (p *Places) Enrich(ctx context.Context, place kb.Place) error {
	if p.geocoder == nil || place.Geo != nil {
		return nil
	}

	query := place.Address
	if query == "" {
		query = place.Name
	}

	geo, err := p.geocoder.Geocode(ctx, query)
	if err != nil {
		if fault.IsNotFound(err) {
			return nil
		}
		return errors.Wrap(err, "resolve: geocode")
	}

	patch := kb.PlacePatch{
		Geo: &kb.GeoPoint{Lat: geo.Lat, Lng: geo.Lng},
	}
	if geo.Address != "" {
		patch.Address = &geo.Address
	}
	if geo.PlaceID != "" {
		patch.ExternalPlaceID = &geo.PlaceID
	}

	if err := p.gw.UpdatePlaceFields(ctx, place.ID, patch); err != nil {
		return errors.Wrap(err, "resolve: persist enrichment")
	}
	return nil
}

// containsFold — регистронезависимое вхождение подстроки.
func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
