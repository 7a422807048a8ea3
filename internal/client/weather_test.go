package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{
			name:    "empty API key",
			apiKey:  "",
			wantErr: ErrInvalidAPIKey,
		},
		{
			name:    "too short API key",
			apiKey:  "short",
			wantErr: ErrInvalidAPIKey,
		},
		{
			name:    "valid API key",
			apiKey:  "valid-api-key-12345",
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
			} else {
				if err != nil {
					t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
				}
				if client == nil {
					t.Fatalf("NewOpenWeatherClient() expected client, got nil")
				}
			}
		})
	}
}

func weatherResponseBody() map[string]interface{} {
	return map[string]interface{}{
		"weather": []map[string]interface{}{
			{"main": "Clouds", "description": "scattered clouds"},
		},
		"main": map[string]interface{}{
			"temp":       288.4,
			"feels_like": 287.1,
			"humidity":   65,
		},
		"wind":   map[string]interface{}{"speed": 3.2},
		"clouds": map[string]interface{}{"all": 40},
	}
}

func TestCurrentByCoord_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("lat") != "47.6" || q.Get("lon") != "-122.3" {
			t.Errorf("unexpected coordinates in query: %s", r.URL.RawQuery)
		}
		if q.Get("appid") == "" {
			t.Errorf("expected API key in query")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(weatherResponseBody())
	}))
	defer server.Close()

	c, err := NewOpenWeatherClient("valid-api-key-12345", server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error: %v", err)
	}

	obs, err := c.CurrentByCoord(context.Background(), 47.6, -122.3)
	if err != nil {
		t.Fatalf("CurrentByCoord() error: %v", err)
	}
	if obs.Description != "scattered clouds" {
		t.Errorf("Description = %q, want scattered clouds", obs.Description)
	}
	if obs.Temp != 288.4 {
		t.Errorf("Temp = %v, want 288.4", obs.Temp)
	}
	if obs.FeelsLike != 287.1 {
		t.Errorf("FeelsLike = %v, want 287.1", obs.FeelsLike)
	}
	if obs.Humidity != 65 {
		t.Errorf("Humidity = %d, want 65", obs.Humidity)
	}
	if obs.WindSpeed != 3.2 {
		t.Errorf("WindSpeed = %v, want 3.2", obs.WindSpeed)
	}
	if obs.CloudsAll != 40 {
		t.Errorf("CloudsAll = %d, want 40", obs.CloudsAll)
	}
}

func TestCurrentByCoord_UnwrapsFirstWeatherEntry(t *testing.T) {
	body := weatherResponseBody()
	body["weather"] = []map[string]interface{}{
		{"main": "Rain", "description": "light rain"},
		{"main": "Drizzle", "description": "drizzle"},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer server.Close()

	c, _ := NewOpenWeatherClient("valid-api-key-12345", server.URL, 2*time.Second)
	obs, err := c.CurrentByCoord(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("CurrentByCoord() error: %v", err)
	}
	if obs.Description != "light rain" {
		t.Errorf("Description = %q, want first entry's description", obs.Description)
	}
}

func TestCurrentByCoord_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantErr: ErrInvalidAPIKey},
		{name: "not found", statusCode: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "server error", statusCode: http.StatusInternalServerError, wantErr: ErrUpstreamFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			c, _ := NewOpenWeatherClientWithRetry("valid-api-key-12345", server.URL, time.Second,
				1, time.Millisecond, time.Millisecond, nil)
			_, err := c.CurrentByCoord(context.Background(), 1, 2)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CurrentByCoord() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCurrentByCoord_RetriesUpstreamFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(weatherResponseBody())
	}))
	defer server.Close()

	c, _ := NewOpenWeatherClientWithRetry("valid-api-key-12345", server.URL, time.Second,
		3, time.Millisecond, 5*time.Millisecond, nil)
	obs, err := c.CurrentByCoord(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("CurrentByCoord() error after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if obs.Description == "" {
		t.Error("expected observation after successful retry")
	}
}

func TestCurrentByCoord_DoesNotRetryBadKey(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, _ := NewOpenWeatherClientWithRetry("valid-api-key-12345", server.URL, time.Second,
		3, time.Millisecond, 5*time.Millisecond, nil)
	_, err := c.CurrentByCoord(context.Background(), 1, 2)
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("CurrentByCoord() error = %v, want ErrInvalidAPIKey", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for auth failure)", calls)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
		wantSubstr string
	}{
		{name: "valid key", statusCode: http.StatusOK, wantErr: false},
		{name: "invalid key", statusCode: http.StatusUnauthorized, wantErr: true, wantSubstr: "invalid"},
		{name: "upstream error", statusCode: http.StatusBadGateway, wantErr: true, wantSubstr: "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.statusCode == http.StatusOK {
					_ = json.NewEncoder(w).Encode(weatherResponseBody())
					return
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			c, _ := NewOpenWeatherClient("valid-api-key-12345", server.URL, time.Second)
			err := c.ValidateAPIKey(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("ValidateAPIKey() expected error, got nil")
				}
				if tt.wantSubstr != "" && !strings.Contains(err.Error(), tt.wantSubstr) {
					t.Errorf("ValidateAPIKey() error = %v, want substring %q", err, tt.wantSubstr)
				}
			} else if err != nil {
				t.Fatalf("ValidateAPIKey() unexpected error: %v", err)
			}
		})
	}
}
