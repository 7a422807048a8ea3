package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/client"
	"github.com/kjstillabower/sales-pipeline/internal/store"
)

const directoryBody = `[
  {
    "id": 3,
    "name": "Clementine Bauch",
    "username": "Samantha",
    "email": "Nathan@yesenia.net",
    "address": {
      "street": "Douglas Extension",
      "suite": "Suite 847",
      "city": "McKenziehaven",
      "zipcode": "59590-4157",
      "geo": {"lat": "-68.6102", "lng": "-47.0653"}
    },
    "company": {"name": "Romaguera-Jacobson"}
  }
]`

func TestCustomerExtractor_WritesBronzeCustomers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(directoryBody))
	}))
	defer server.Close()

	gw := openTestGateway(t)
	e := NewCustomerExtractor(client.NewDirectoryClient(server.URL, time.Second), gw, zap.NewNop())

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	rows, err := gw.Read(context.Background(), "SELECT * FROM "+TableCustomers)
	if err != nil {
		t.Fatalf("read %s: %v", TableCustomers, err)
	}
	if rows.Len() != 1 {
		t.Fatalf("%s rows = %d, want 1", TableCustomers, rows.Len())
	}
	for _, col := range []string{"id", "name", "address_geo_lat", "address_geo_lng", "company_name"} {
		if rows.Col(col) < 0 {
			t.Errorf("missing flattened column %q, got %v", col, rows.Columns)
		}
	}
	if lat, _ := store.AsFloat(rows.Records[0][rows.Col("address_geo_lat")]); lat != -68.6102 {
		t.Errorf("address_geo_lat = %v, want -68.6102", lat)
	}
}

func TestCustomerExtractor_APIFailureAbortsWithoutWrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gw := openTestGateway(t)
	e := NewCustomerExtractor(client.NewDirectoryClient(server.URL, time.Second), gw, zap.NewNop())

	if err := e.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded against failing API, want error")
	}
	if _, err := gw.Read(context.Background(), "SELECT * FROM "+TableCustomers); err == nil {
		t.Error("bronze_customers exists after aborted task, want no partial write")
	}
}
