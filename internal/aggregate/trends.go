package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/sales-pipeline/internal/store"
)

// orderDateLayouts are tried in order when bucketing trend rows. An
// order_date matching none of them fails the trend task; the other gold
// tasks are unaffected.
var orderDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseOrderDate(s string) (time.Time, error) {
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable order_date %q", s)
}

type trendBucket struct {
	year, period int
	quantity     int64
	totalSales   float64
}

// buildTrend buckets silver rows by (year, period) where period is derived
// from the order date by periodOf. Buckets are emitted sorted ascending.
func (a *Aggregator) buildTrend(ctx context.Context, periodOf func(time.Time) int) ([]trendBucket, error) {
	v, err := a.readSales(ctx)
	if err != nil {
		return nil, err
	}

	buckets := make(map[[2]int]*trendBucket)
	for _, rec := range v.rows.Records {
		when, err := parseOrderDate(store.AsString(rec[v.orderDate]))
		if err != nil {
			return nil, err
		}
		quantity, price, err := v.measures(rec)
		if err != nil {
			return nil, err
		}

		key := [2]int{when.Year(), periodOf(when)}
		b, ok := buckets[key]
		if !ok {
			b = &trendBucket{year: key[0], period: key[1]}
			buckets[key] = b
		}
		b.quantity += quantity
		b.totalSales += float64(quantity) * price
	}

	out := make([]trendBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].year != out[j].year {
			return out[i].year < out[j].year
		}
		return out[i].period < out[j].period
	})
	return out, nil
}

// SalesTrendsMonthly writes sum(quantity) and sum(quantity*price) per
// (year, month).
func (a *Aggregator) SalesTrendsMonthly(ctx context.Context) error {
	buckets, err := a.buildTrend(ctx, func(t time.Time) int { return int(t.Month()) })
	if err != nil {
		return err
	}

	out := store.NewRows("order_year", "order_month", "quantity", "total_sales")
	for _, b := range buckets {
		out.Append(int64(b.year), int64(b.period), b.quantity, b.totalSales)
	}
	return a.write(ctx, TableSalesTrendsMonthly, out, store.WriteOptions{})
}

// SalesTrendsQuarterly writes sum(quantity) and sum(quantity*price) per
// (year, quarter), quarter 1 covering January through March.
func (a *Aggregator) SalesTrendsQuarterly(ctx context.Context) error {
	buckets, err := a.buildTrend(ctx, func(t time.Time) int { return (int(t.Month())-1)/3 + 1 })
	if err != nil {
		return err
	}

	out := store.NewRows("order_year", "order_quarter", "quantity", "total_sales")
	for _, b := range buckets {
		out.Append(int64(b.year), int64(b.period), b.quantity, b.totalSales)
	}
	return a.write(ctx, TableSalesTrendsQuarterly, out, store.WriteOptions{})
}
