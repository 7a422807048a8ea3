package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/sales-pipeline/internal/circuitbreaker"
	"github.com/kjstillabower/sales-pipeline/internal/models"
)

// GuardedWeatherClient wraps a WeatherClient with a circuit breaker so a dead
// upstream fails fast instead of stalling every fetch worker through its full
// retry budget.
type GuardedWeatherClient struct {
	inner   WeatherClient
	breaker *circuitbreaker.Breaker
}

func GuardWeather(inner WeatherClient, b *circuitbreaker.Breaker) *GuardedWeatherClient {
	return &GuardedWeatherClient{inner: inner, breaker: b}
}

// countsAgainstUpstream separates upstream faults from data-level misses. A
// 404 for one coordinate or a rejected key says nothing about upstream health
// and must not open the circuit.
func countsAgainstUpstream(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidAPIKey)
}

func (g *GuardedWeatherClient) CurrentByCoord(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	var obs models.WeatherObservation
	var lookupErr error
	err := g.breaker.Call(ctx, func() error {
		obs, lookupErr = g.inner.CurrentByCoord(ctx, lat, lon)
		if lookupErr != nil && !countsAgainstUpstream(lookupErr) {
			return nil
		}
		return lookupErr
	})
	if err != nil {
		return models.WeatherObservation{}, err
	}
	if lookupErr != nil {
		return models.WeatherObservation{}, lookupErr
	}
	return obs, nil
}

// ValidateAPIKey bypasses the breaker; it is itself a health probe.
func (g *GuardedWeatherClient) ValidateAPIKey(ctx context.Context) error {
	return g.inner.ValidateAPIKey(ctx)
}
