package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/sales-pipeline/internal/circuitbreaker"
	"github.com/kjstillabower/sales-pipeline/internal/models"
)

type scriptedWeatherClient struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *scriptedWeatherClient) CurrentByCoord(context.Context, float64, float64) (models.WeatherObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return models.WeatherObservation{}, s.err
	}
	return models.WeatherObservation{Description: "clear sky"}, nil
}

func (s *scriptedWeatherClient) ValidateAPIKey(context.Context) error { return nil }

func TestGuardedWeatherClient_FailsFastWhenOpen(t *testing.T) {
	inner := &scriptedWeatherClient{err: fmt.Errorf("boom: %w", ErrUpstreamFailure)}
	g := GuardWeather(inner, circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		Component:        "weather_api",
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.CurrentByCoord(ctx, 1, 1); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want upstream failure", i, err)
		}
	}

	if _, err := g.CurrentByCoord(ctx, 1, 1); !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("call with open circuit error = %v, want ErrOpen", err)
	}
	if inner.calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (open circuit must not call through)", inner.calls)
	}
}

func TestGuardedWeatherClient_NotFoundDoesNotTrip(t *testing.T) {
	inner := &scriptedWeatherClient{err: ErrNotFound}
	g := GuardWeather(inner, circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := g.CurrentByCoord(ctx, 1, 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d error = %v, want ErrNotFound", i, err)
		}
	}
	if inner.calls != 5 {
		t.Errorf("upstream calls = %d, want 5 (404s must not open the circuit)", inner.calls)
	}
}

func TestGuardedWeatherClient_PassesThroughSuccess(t *testing.T) {
	inner := &scriptedWeatherClient{}
	g := GuardWeather(inner, circuitbreaker.New(circuitbreaker.Config{}))

	obs, err := g.CurrentByCoord(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("CurrentByCoord() error: %v", err)
	}
	if obs.Description != "clear sky" {
		t.Errorf("description = %q, want clear sky", obs.Description)
	}
}
