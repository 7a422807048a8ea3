// Package transform implements the silver layer: the single reconciliation
// of the three bronze tables into silver_sales.
package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/extract"
	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
)

// TableSales is the reconciled sales table every gold aggregate derives from.
const TableSales = "silver_sales"

// salesQuery is the pipeline's quality gate. Both joins are inner joins on
// purpose: an order whose customer is missing from bronze_customers or
// bronze_weather is excluded from all downstream analytics for the run.
const salesQuery = `SELECT o.*, c.name AS customer_name, c.address_geo_lat, c.address_geo_lng,
	w.weather_description, w.main_temp, w.main_feels_like, w.main_humidity,
	w.wind_speed, w.clouds_all
FROM ` + extract.TableOrders + ` o
INNER JOIN ` + extract.TableCustomers + ` c ON c.id = o.customer_id
INNER JOIN ` + extract.TableWeather + ` w ON w.customer_id = o.customer_id`

// Reconciler joins the bronze tables and writes silver_sales, one row per
// order line enriched with customer and weather context.
type Reconciler struct {
	gw     *store.Gateway
	logger *zap.Logger
}

func NewReconciler(gw *store.Gateway, logger *zap.Logger) *Reconciler {
	return &Reconciler{gw: gw, logger: logger}
}

func (r *Reconciler) Run(ctx context.Context) error {
	rows, err := r.gw.Read(ctx, salesQuery)
	if err != nil {
		return fmt.Errorf("join bronze tables: %w", err)
	}

	if err := r.gw.Write(ctx, TableSales, rows, store.WriteOptions{IndexColumns: []string{"customer_id", "product_id"}}); err != nil {
		return fmt.Errorf("write %s: %w", TableSales, err)
	}
	observability.RowsWrittenTotal.WithLabelValues(TableSales).Add(float64(rows.Len()))
	r.logger.Info("sales reconciled", zap.Int("rows", rows.Len()))
	return nil
}
