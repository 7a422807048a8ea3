package extract

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/sales-pipeline/internal/store"
)

// openTestGateway returns a Gateway over an in-memory database pinned to one
// connection.
func openTestGateway(t *testing.T) *store.Gateway {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewGateway(db)
}

// seedCustomers writes a minimal bronze_customers snapshot.
func seedCustomers(t *testing.T, gw *store.Gateway, ids []int64) {
	t.Helper()
	rows := store.NewRows("id", "name", "address_geo_lat", "address_geo_lng")
	for _, id := range ids {
		rows.Append(id, "customer", float64(id), -float64(id))
	}
	if err := gw.Write(context.Background(), TableCustomers, rows, store.WriteOptions{IndexColumns: []string{"id"}}); err != nil {
		t.Fatalf("seed %s: %v", TableCustomers, err)
	}
}

func tableRowCount(t *testing.T, gw *store.Gateway, table string) int {
	t.Helper()
	rows, err := gw.Read(context.Background(), "SELECT * FROM "+table)
	if err != nil {
		t.Fatalf("read %s: %v", table, err)
	}
	return rows.Len()
}
