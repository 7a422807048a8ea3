// Package pipeline wires the extractors, the reconciler and the aggregates
// into a task graph and runs it against the configured warehouse.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/sales-pipeline/internal/aggregate"
	"github.com/kjstillabower/sales-pipeline/internal/cache"
	"github.com/kjstillabower/sales-pipeline/internal/circuitbreaker"
	"github.com/kjstillabower/sales-pipeline/internal/client"
	"github.com/kjstillabower/sales-pipeline/internal/config"
	"github.com/kjstillabower/sales-pipeline/internal/extract"
	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
	"github.com/kjstillabower/sales-pipeline/internal/taskgraph"
	"github.com/kjstillabower/sales-pipeline/internal/transform"
)

// Task names, stable identifiers used in logs and metrics.
const (
	TaskTestConnection   = "test_connection"
	TaskExtractCustomers = "extract_customers"
	TaskExtractWeather   = "extract_weather"
	TaskLoadOrders       = "load_orders"
	TaskETLSales         = "etl_sales"

	TaskTotalSalesByCustomer       = "process_total_sales_by_customer"
	TaskAvgOrderQuantityPerProduct = "process_avg_order_quantity_per_product"
	TaskTopSellingProducts         = "process_top_selling_products"
	TaskTopSellingCustomers        = "process_top_selling_customers"
	TaskSalesTrendsMonthly         = "process_sales_trends_monthly"
	TaskSalesTrendsQuarterly       = "process_sales_trends_quarterly"
	TaskSalesPerWeatherCondition   = "process_sales_per_weather_condition"
)

// Pipeline owns the shared components for one configured deployment. A
// Pipeline may run any number of times; each run rebuilds every layer from
// its sources.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger

	gw          *store.Gateway
	directory   *client.DirectoryClient
	weather     client.WeatherClient
	lookupCache cache.Cache

	metricsSrv *http.Server
}

// New opens the warehouse, builds the API clients and the configured weather
// cache, and starts the metrics listener when one is configured.
func New(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	gw, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	openWeather, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout,
		cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay, limiter)
	if err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("build weather client: %w", err)
	}
	weather := client.GuardWeather(openWeather, circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Component:        "weather_api",
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues("weather_api").Set(float64(to))
			logger.Warn("weather upstream circuit state changed",
				zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}))

	lookupCache, err := buildCache(cfg, logger)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		logger:      logger,
		gw:          gw,
		directory:   client.NewDirectoryClient(cfg.CustomerAPIURL, cfg.CustomerAPITimeout),
		weather:     weather,
		lookupCache: lookupCache,
	}

	if cfg.MetricsAddr != "" {
		p.metricsSrv = startMetricsServer(cfg.MetricsAddr, logger)
	}
	return p, nil
}

func buildCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "none":
		return nil, nil
	case "in_memory":
		return cache.NewInMemoryCache(), nil
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("build memcached cache: %w", err)
		}
		if err := mc.Ping(); err != nil {
			// Degrade rather than fail the run; the cache is an optimization.
			logger.Warn("memcached unreachable, running without weather cache", zap.Error(err))
			_ = mc.Close()
			return nil, nil
		}
		return mc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listener started", zap.String("addr", addr))
	return srv
}

// build registers the tasks and edges on a fresh graph. All bronze tasks
// complete before the silver reconciliation, and the seven gold tasks fan out
// from it with no edges among themselves.
func (p *Pipeline) build(logger *zap.Logger) (*taskgraph.Graph, error) {
	customers := extract.NewCustomerExtractor(p.directory, p.gw, logger)
	weather := extract.NewWeatherExtractor(p.weather, p.lookupCache, p.cfg.CacheTTL,
		p.gw, logger, p.cfg.WeatherConcurrency)
	orders := extract.NewOrderLoader(p.cfg.OrdersCSVPath, p.gw, logger)
	reconciler := transform.NewReconciler(p.gw, logger)
	agg := aggregate.New(p.gw, logger)

	g := taskgraph.New(logger)
	tasks := []struct {
		name string
		fn   taskgraph.TaskFunc
	}{
		{TaskTestConnection, p.Check},
		{TaskExtractCustomers, customers.Run},
		{TaskExtractWeather, weather.Run},
		{TaskLoadOrders, orders.Run},
		{TaskETLSales, reconciler.Run},
		{TaskTotalSalesByCustomer, agg.TotalSalesByCustomer},
		{TaskAvgOrderQuantityPerProduct, agg.AvgOrderQuantityPerProduct},
		{TaskTopSellingProducts, agg.TopSellingProducts},
		{TaskTopSellingCustomers, agg.TopSellingCustomers},
		{TaskSalesTrendsMonthly, agg.SalesTrendsMonthly},
		{TaskSalesTrendsQuarterly, agg.SalesTrendsQuarterly},
		{TaskSalesPerWeatherCondition, agg.SalesPerWeatherCondition},
	}
	for _, t := range tasks {
		if err := g.Add(t.name, t.fn); err != nil {
			return nil, err
		}
	}

	edges := [][2]string{
		{TaskTestConnection, TaskExtractCustomers},
		{TaskTestConnection, TaskLoadOrders},
		{TaskExtractCustomers, TaskExtractWeather},
		{TaskExtractCustomers, TaskETLSales},
		{TaskExtractWeather, TaskETLSales},
		{TaskLoadOrders, TaskETLSales},
		{TaskETLSales, TaskTotalSalesByCustomer},
		{TaskETLSales, TaskAvgOrderQuantityPerProduct},
		{TaskETLSales, TaskTopSellingProducts},
		{TaskETLSales, TaskTopSellingCustomers},
		{TaskETLSales, TaskSalesTrendsMonthly},
		{TaskETLSales, TaskSalesTrendsQuarterly},
		{TaskETLSales, TaskSalesPerWeatherCondition},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Run executes one full pipeline pass. Every log line from the run carries a
// fresh run_id.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))

	g, err := p.build(logger)
	if err != nil {
		return fmt.Errorf("build task graph: %w", err)
	}

	logger.Info("pipeline run started",
		zap.String("db_driver", p.cfg.DBDriver),
		zap.String("orders_csv", p.cfg.OrdersCSVPath))
	start := time.Now()
	if err := g.Run(ctx); err != nil {
		logger.Error("pipeline run failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return err
	}
	logger.Info("pipeline run finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Check verifies the warehouse connection and the weather API key without
// moving any data. It doubles as the graph's root task.
func (p *Pipeline) Check(ctx context.Context) error {
	if err := p.gw.Ping(ctx); err != nil {
		return fmt.Errorf("warehouse ping: %w", err)
	}
	if err := p.weather.ValidateAPIKey(ctx); err != nil {
		return fmt.Errorf("weather API key: %w", err)
	}
	return nil
}

// Order returns the task names in a stable topological order, for display.
func (p *Pipeline) Order() ([]string, error) {
	g, err := p.build(zap.NewNop())
	if err != nil {
		return nil, err
	}
	return g.Order()
}

func (p *Pipeline) Close() error {
	var errs error
	if p.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.metricsSrv.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop metrics listener: %w", err))
		}
		cancel()
	}
	if c, ok := p.lookupCache.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	if err := p.gw.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close warehouse: %w", err))
	}
	return errs
}
