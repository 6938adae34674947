package extsvc

import (
	"context"
	"time"

	"second-brain/internal/domain/resolve"
	"second-brain/internal/shared/fault"
)

// errUnavailable возвращается всеми заглушками: сервис не сконфигурирован.
func errUnavailable(name string) error {
	return fault.Newf(fault.KindConfig, "%s is not configured", name)
}

// NoopTranscriber — заглушка распознавания речи.
type NoopTranscriber struct{}

func (NoopTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return "", errUnavailable("speech-to-text")
}

// NoopCalendar — заглушка календаря.
type NoopCalendar struct{}

func (NoopCalendar) CreateEvent(_ context.Context, event Event) (Event, error) {
	return event, errUnavailable("calendar")
}

// NoopMaps — заглушка геосервиса.
type NoopMaps struct{}

func (NoopMaps) Geocode(context.Context, string) (resolve.Geocoded, error) {
	return resolve.Geocoded{}, errUnavailable("maps")
}

func (NoopMaps) TravelTime(context.Context, resolve.Geocoded, resolve.Geocoded) (TravelEstimate, error) {
	return TravelEstimate{}, errUnavailable("maps")
}

// NoopDocs — заглушка документов.
type NoopDocs struct{}

func (NoopDocs) CreateDocument(context.Context, string, string) (Document, error) {
	return Document{}, errUnavailable("docs")
}

// NoopResearcher — заглушка исследований.
type NoopResearcher struct{}

func (NoopResearcher) Research(context.Context, string) (Finding, error) {
	return Finding{}, errUnavailable("research")
}

// NoopMailbox — заглушка почты.
type NoopMailbox struct{}

func (NoopMailbox) SentSince(context.Context, time.Time, int) ([]Message, error) {
	return nil, errUnavailable("email")
}

// NoopLLM — заглушка языковой модели.
type NoopLLM struct{}

func (NoopLLM) Complete(context.Context, string) (string, error) {
	return "", errUnavailable("llm")
}
