// Package extract implements the bronze layer: one task per source, each
// producing a complete snapshot table on every run.
package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/client"
	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/store"
)

// Bronze table names. Each table is written by exactly one task.
const (
	TableCustomers = "bronze_customers"
	TableWeather   = "bronze_weather"
	TableOrders    = "bronze_orders"
)

// customerColumns is the flattened column order of bronze_customers.
var customerColumns = []string{
	"id", "name", "username", "email", "phone", "website",
	"address_street", "address_suite", "address_city", "address_zipcode",
	"address_geo_lat", "address_geo_lng", "company_name",
}

// CustomerExtractor fetches the directory API and writes bronze_customers.
// An API error or malformed response aborts the task with no partial write.
type CustomerExtractor struct {
	client *client.DirectoryClient
	gw     *store.Gateway
	logger *zap.Logger
}

func NewCustomerExtractor(c *client.DirectoryClient, gw *store.Gateway, logger *zap.Logger) *CustomerExtractor {
	return &CustomerExtractor{client: c, gw: gw, logger: logger}
}

func (e *CustomerExtractor) Run(ctx context.Context) error {
	customers, err := e.client.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("fetch customers: %w", err)
	}

	rows := store.NewRows(customerColumns...)
	for _, c := range customers {
		rows.Append(c.ID, c.Name, c.Username, c.Email, c.Phone, c.Website,
			c.AddressStreet, c.AddressSuite, c.AddressCity, c.AddressZip,
			c.Lat, c.Lng, c.CompanyName)
	}

	if err := e.gw.Write(ctx, TableCustomers, rows, store.WriteOptions{IndexColumns: []string{"id"}}); err != nil {
		return fmt.Errorf("write %s: %w", TableCustomers, err)
	}
	observability.RowsWrittenTotal.WithLabelValues(TableCustomers).Add(float64(rows.Len()))
	e.logger.Info("customers extracted", zap.Int("rows", rows.Len()))
	return nil
}
