package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/cache"
	"github.com/kjstillabower/sales-pipeline/internal/client"
	"github.com/kjstillabower/sales-pipeline/internal/models"
	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
)

var weatherColumns = []string{
	"customer_id", "weather_description", "main_temp", "main_feels_like",
	"main_humidity", "wind_speed", "clouds_all",
}

// WeatherExtractor issues one weather lookup per bronze_customers row and
// writes the surviving observations to bronze_weather. A lookup that fails
// after retries drops that customer's row; the task itself still succeeds.
// The silver join downstream then excludes those customers for the run.
type WeatherExtractor struct {
	client      client.WeatherClient
	cache       cache.Cache // nil disables caching
	cacheTTL    time.Duration
	gw          *store.Gateway
	logger      *zap.Logger
	concurrency int
}

func NewWeatherExtractor(c client.WeatherClient, lookupCache cache.Cache, cacheTTL time.Duration, gw *store.Gateway, logger *zap.Logger, concurrency int) *WeatherExtractor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WeatherExtractor{
		client:      c,
		cache:       lookupCache,
		cacheTTL:    cacheTTL,
		gw:          gw,
		logger:      logger,
		concurrency: concurrency,
	}
}

type lookupTarget struct {
	customerID int64
	lat, lng   float64
}

func (e *WeatherExtractor) Run(ctx context.Context) error {
	src, err := e.gw.Read(ctx, "SELECT id, address_geo_lat, address_geo_lng FROM "+TableCustomers)
	if err != nil {
		return fmt.Errorf("read %s: %w", TableCustomers, err)
	}

	targets, err := lookupTargets(src)
	if err != nil {
		return err
	}

	observations := e.fetchAll(ctx, targets)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Concurrent fetch completes in arbitrary order; sort so reruns produce
	// identical table contents.
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].CustomerID < observations[j].CustomerID
	})

	rows := store.NewRows(weatherColumns...)
	for _, o := range observations {
		rows.Append(o.CustomerID, o.Description, o.Temp, o.FeelsLike, o.Humidity, o.WindSpeed, o.CloudsAll)
	}

	if err := e.gw.Write(ctx, TableWeather, rows, store.WriteOptions{IndexColumns: []string{"customer_id"}}); err != nil {
		return fmt.Errorf("write %s: %w", TableWeather, err)
	}
	observability.RowsWrittenTotal.WithLabelValues(TableWeather).Add(float64(rows.Len()))
	e.logger.Info("weather extracted",
		zap.Int("customers", len(targets)),
		zap.Int("rows", rows.Len()),
		zap.Int("dropped", len(targets)-rows.Len()))
	return nil
}

func lookupTargets(src *store.Rows) ([]lookupTarget, error) {
	idCol, latCol, lngCol := src.Col("id"), src.Col("address_geo_lat"), src.Col("address_geo_lng")
	if idCol < 0 || latCol < 0 || lngCol < 0 {
		return nil, fmt.Errorf("%s missing geo columns: %v", TableCustomers, src.Columns)
	}

	targets := make([]lookupTarget, 0, src.Len())
	for _, rec := range src.Records {
		id, err := store.AsInt(rec[idCol])
		if err != nil {
			return nil, fmt.Errorf("customer id: %w", err)
		}
		lat, err := store.AsFloat(rec[latCol])
		if err != nil {
			return nil, fmt.Errorf("customer %d latitude: %w", id, err)
		}
		lng, err := store.AsFloat(rec[lngCol])
		if err != nil {
			return nil, fmt.Errorf("customer %d longitude: %w", id, err)
		}
		targets = append(targets, lookupTarget{customerID: id, lat: lat, lng: lng})
	}
	return targets, nil
}

// fetchAll runs lookups with bounded parallelism. Failed lookups are logged
// and dropped, never defaulted.
func (e *WeatherExtractor) fetchAll(ctx context.Context, targets []lookupTarget) []models.WeatherObservation {
	jobs := make(chan lookupTarget)
	var mu sync.Mutex
	var observations []models.WeatherObservation

	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				obs, err := e.lookup(ctx, t)
				if err != nil {
					observability.WeatherLookupsDroppedTotal.Inc()
					e.logger.Warn("weather lookup dropped",
						zap.Int64("customer_id", t.customerID),
						zap.Error(err))
					continue
				}
				obs.CustomerID = t.customerID
				mu.Lock()
				observations = append(observations, obs)
				mu.Unlock()
			}
		}()
	}

	for _, t := range targets {
		select {
		case jobs <- t:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return observations
		}
	}
	close(jobs)
	wg.Wait()
	return observations
}

func (e *WeatherExtractor) lookup(ctx context.Context, t lookupTarget) (models.WeatherObservation, error) {
	if e.cache == nil {
		return e.client.CurrentByCoord(ctx, t.lat, t.lng)
	}

	key := cache.CoordKey(t.lat, t.lng)
	if obs, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		return obs, nil
	}

	obs, err := e.client.CurrentByCoord(ctx, t.lat, t.lng)
	if err != nil {
		return models.WeatherObservation{}, err
	}
	if err := e.cache.Set(ctx, key, obs, e.cacheTTL); err != nil {
		e.logger.Debug("weather cache set failed", zap.String("key", key), zap.Error(err))
	}
	return obs, nil
}
