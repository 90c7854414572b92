// Package geocode defines the coordinate-resolution interface used to
// enrich events whose sources publish no coordinates.
package geocode

import (
	"context"

	"github.com/trailblaze-io/trailblaze/internal/events"
)

type (
	// Result is a resolved coordinate pair.
	Result struct {
		Latitude  float64
		Longitude float64
	}

	// Geocoder resolves a free-form location string to coordinates.
	// Implementations report ok=false when the location cannot be
	// resolved; that is not an error.
	Geocoder interface {
		Geocode(ctx context.Context, location string) (Result, bool, error)
	}

	// Noop never resolves anything. Used when no geocoding backend is
	// configured; events keep whatever coordinates their source provided.
	Noop struct{}
)

var _ Geocoder = (*Noop)(nil)

// Geocode always reports an unresolved location.
func (Noop) Geocode(_ context.Context, _ string) (Result, bool, error) {
	return Result{}, false, nil
}

// Enrich fills missing coordinates on a batch of events using the given
// geocoder. Events that already carry coordinates are left alone. Each
// attempted event is marked so the store can record the attempt.
func Enrich(ctx context.Context, geocoder Geocoder, batch []*events.CanonicalEvent) error {
	if geocoder == nil {
		return nil
	}

	for _, event := range batch {
		if event == nil || event.Location == "" {
			continue
		}

		if event.Latitude != nil && event.Longitude != nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		result, ok, err := geocoder.Geocode(ctx, event.Location)
		if err != nil {
			return err
		}

		event.GeocodeAttempt = true

		if ok {
			lat, lon := result.Latitude, result.Longitude
			event.Latitude = &lat
			event.Longitude = &lon
		}
	}

	return nil
}
