package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
)

var requiredOrderColumns = []string{"customer_id", "product_id", "quantity", "price", "order_date"}

// OrderLoader reads the delimited orders file and writes bronze_orders. A
// missing file, missing required column, or malformed row aborts the task.
// Columns beyond the required five are carried through as text.
type OrderLoader struct {
	path   string
	gw     *store.Gateway
	logger *zap.Logger
}

func NewOrderLoader(path string, gw *store.Gateway, logger *zap.Logger) *OrderLoader {
	return &OrderLoader{path: path, gw: gw, logger: logger}
}

func (l *OrderLoader) Run(ctx context.Context) error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open orders file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read orders header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}
	for _, required := range requiredOrderColumns {
		if _, ok := colIdx[required]; !ok {
			return fmt.Errorf("orders file missing required column %q", required)
		}
	}

	rows := store.NewRows(header...)
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read orders row: %w", err)
		}
		line++

		values, err := typedOrderValues(header, colIdx, record)
		if err != nil {
			return fmt.Errorf("orders line %d: %w", line, err)
		}
		rows.Append(values...)
	}

	if err := l.gw.Write(ctx, TableOrders, rows, store.WriteOptions{IndexColumns: []string{"customer_id"}}); err != nil {
		return fmt.Errorf("write %s: %w", TableOrders, err)
	}
	observability.RowsWrittenTotal.WithLabelValues(TableOrders).Add(float64(rows.Len()))
	l.logger.Info("orders loaded", zap.Int("rows", rows.Len()))
	return nil
}

// typedOrderValues converts one CSV record: the identity and measure columns
// get real numeric types, everything else stays text.
func typedOrderValues(header []string, colIdx map[string]int, record []string) ([]any, error) {
	values := make([]any, len(header))
	for i := range header {
		values[i] = record[i]
	}

	customerID, err := strconv.ParseInt(record[colIdx["customer_id"]], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("customer_id %q: %w", record[colIdx["customer_id"]], err)
	}
	quantity, err := strconv.ParseInt(record[colIdx["quantity"]], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quantity %q: %w", record[colIdx["quantity"]], err)
	}
	price, err := strconv.ParseFloat(record[colIdx["price"]], 64)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", record[colIdx["price"]], err)
	}

	values[colIdx["customer_id"]] = customerID
	values[colIdx["quantity"]] = quantity
	values[colIdx["price"]] = price
	return values, nil
}
