// Package aggregate implements the gold layer: seven independent summaries,
// each a pure function of silver_sales at the moment it runs. The tasks share
// no state and may execute concurrently.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
	"github.com/kjstillabower/sales-pipeline/internal/transform"
)

// Gold table names, one per aggregate.
const (
	TableTotalSalesByCustomer      = "gold_total_sales_by_customer"
	TableAvgOrderQuantityPerProduct = "gold_avg_order_quantity_per_product"
	TableTopSellingProducts        = "gold_top_selling_products"
	TableTopSellingCustomers       = "gold_top_selling_customers"
	TableSalesTrendsMonthly        = "gold_sales_trends_monthly"
	TableSalesTrendsQuarterly      = "gold_sales_trends_quarterly"
	TableSalesPerWeatherCondition  = "gold_sales_per_weather_condition"
)

// Aggregator computes the gold tables. Every operation re-reads silver_sales
// fresh; results are never shared between aggregates.
type Aggregator struct {
	gw     *store.Gateway
	logger *zap.Logger
}

func New(gw *store.Gateway, logger *zap.Logger) *Aggregator {
	return &Aggregator{gw: gw, logger: logger}
}

// salesView wraps a silver_sales read with resolved column positions.
type salesView struct {
	rows                                                 *store.Rows
	customerID, productID, quantity, price, orderDate, weatherDesc int
}

func (a *Aggregator) readSales(ctx context.Context) (*salesView, error) {
	rows, err := a.gw.Read(ctx, "SELECT * FROM "+transform.TableSales)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", transform.TableSales, err)
	}
	v := &salesView{
		rows:        rows,
		customerID:  rows.Col("customer_id"),
		productID:   rows.Col("product_id"),
		quantity:    rows.Col("quantity"),
		price:       rows.Col("price"),
		orderDate:   rows.Col("order_date"),
		weatherDesc: rows.Col("weather_description"),
	}
	for name, idx := range map[string]int{
		"customer_id": v.customerID, "product_id": v.productID,
		"quantity": v.quantity, "price": v.price,
		"order_date": v.orderDate, "weather_description": v.weatherDesc,
	} {
		if idx < 0 {
			return nil, fmt.Errorf("%s missing column %q", transform.TableSales, name)
		}
	}
	return v, nil
}

func (v *salesView) customer(rec []any) (int64, error) {
	id, err := store.AsInt(rec[v.customerID])
	if err != nil {
		return 0, fmt.Errorf("customer_id: %w", err)
	}
	return id, nil
}

func (v *salesView) measures(rec []any) (quantity int64, price float64, err error) {
	quantity, err = store.AsInt(rec[v.quantity])
	if err != nil {
		return 0, 0, fmt.Errorf("quantity: %w", err)
	}
	price, err = store.AsFloat(rec[v.price])
	if err != nil {
		return 0, 0, fmt.Errorf("price: %w", err)
	}
	return quantity, price, nil
}

func (a *Aggregator) write(ctx context.Context, table string, rows *store.Rows, opts store.WriteOptions) error {
	if err := a.gw.Write(ctx, table, rows, opts); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	observability.RowsWrittenTotal.WithLabelValues(table).Add(float64(rows.Len()))
	a.logger.Info("aggregate written", zap.String("table", table), zap.Int("rows", rows.Len()))
	return nil
}

// TotalSalesByCustomer writes sum(quantity*price) per customer.
func (a *Aggregator) TotalSalesByCustomer(ctx context.Context) error {
	v, err := a.readSales(ctx)
	if err != nil {
		return err
	}

	totals := make(map[int64]float64)
	var order []int64
	for _, rec := range v.rows.Records {
		id, err := v.customer(rec)
		if err != nil {
			return err
		}
		quantity, price, err := v.measures(rec)
		if err != nil {
			return err
		}
		if _, seen := totals[id]; !seen {
			order = append(order, id)
		}
		totals[id] += float64(quantity) * price
	}

	out := store.NewRows("customer_id", "total_sales")
	for _, id := range order {
		out.Append(id, totals[id])
	}
	return a.write(ctx, TableTotalSalesByCustomer, out, store.WriteOptions{})
}

// AvgOrderQuantityPerProduct writes mean(quantity) per product. The output
// column keeps the source name "quantity", as the report consumers expect.
func (a *Aggregator) AvgOrderQuantityPerProduct(ctx context.Context) error {
	v, err := a.readSales(ctx)
	if err != nil {
		return err
	}

	sums := make(map[string]int64)
	counts := make(map[string]int64)
	var order []string
	for _, rec := range v.rows.Records {
		product := store.AsString(rec[v.productID])
		quantity, _, err := v.measures(rec)
		if err != nil {
			return err
		}
		if _, seen := sums[product]; !seen {
			order = append(order, product)
		}
		sums[product] += quantity
		counts[product]++
	}

	out := store.NewRows("product_id", "quantity")
	for _, product := range order {
		out.Append(product, float64(sums[product])/float64(counts[product]))
	}
	return a.write(ctx, TableAvgOrderQuantityPerProduct, out, store.WriteOptions{})
}

// TopSellingProducts writes sum(quantity) per product, descending. The sort
// is stable on the summed quantity alone; ties keep the order products were
// first seen in the silver scan.
func (a *Aggregator) TopSellingProducts(ctx context.Context) error {
	v, err := a.readSales(ctx)
	if err != nil {
		return err
	}

	sums := make(map[string]int64)
	var order []string
	for _, rec := range v.rows.Records {
		product := store.AsString(rec[v.productID])
		quantity, _, err := v.measures(rec)
		if err != nil {
			return err
		}
		if _, seen := sums[product]; !seen {
			order = append(order, product)
		}
		sums[product] += quantity
	}

	sort.SliceStable(order, func(i, j int) bool {
		return sums[order[i]] > sums[order[j]]
	})

	out := store.NewRows("product_id", "quantity")
	for _, product := range order {
		out.Append(product, sums[product])
	}
	return a.write(ctx, TableTopSellingProducts, out, store.WriteOptions{})
}

// TopSellingCustomers writes sum(quantity) per customer, descending, with
// customer_id as the table's row identity. Tie-break as in TopSellingProducts.
func (a *Aggregator) TopSellingCustomers(ctx context.Context) error {
	v, err := a.readSales(ctx)
	if err != nil {
		return err
	}

	sums := make(map[int64]int64)
	var order []int64
	for _, rec := range v.rows.Records {
		id, err := v.customer(rec)
		if err != nil {
			return err
		}
		quantity, _, err := v.measures(rec)
		if err != nil {
			return err
		}
		if _, seen := sums[id]; !seen {
			order = append(order, id)
		}
		sums[id] += quantity
	}

	sort.SliceStable(order, func(i, j int) bool {
		return sums[order[i]] > sums[order[j]]
	})

	out := store.NewRows("customer_id", "quantity")
	for _, id := range order {
		out.Append(id, sums[id])
	}
	return a.write(ctx, TableTopSellingCustomers, out, store.WriteOptions{IndexColumns: []string{"customer_id"}})
}

// SalesPerWeatherCondition writes mean(quantity*price) per weather
// description. The output column keeps the name "total_sales" even though it
// holds a mean, matching the report's established schema.
func (a *Aggregator) SalesPerWeatherCondition(ctx context.Context) error {
	v, err := a.readSales(ctx)
	if err != nil {
		return err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int64)
	var order []string
	for _, rec := range v.rows.Records {
		desc := store.AsString(rec[v.weatherDesc])
		quantity, price, err := v.measures(rec)
		if err != nil {
			return err
		}
		if _, seen := sums[desc]; !seen {
			order = append(order, desc)
		}
		sums[desc] += float64(quantity) * price
		counts[desc]++
	}

	out := store.NewRows("weather_description", "total_sales")
	for _, desc := range order {
		out.Append(desc, sums[desc]/float64(counts[desc]))
	}
	return a.write(ctx, TableSalesPerWeatherCondition, out, store.WriteOptions{})
}
