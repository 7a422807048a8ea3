package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kjstillabower/sales-pipeline/internal/models"
)

// DirectoryClient fetches the customer list from the external directory API.
// Any transport error or malformed record aborts the whole fetch; there is
// no per-customer fallback at this layer.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
}

func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// directoryUser mirrors the API's nested shape. Geo coordinates arrive as
// strings and are parsed strictly; an unparseable coordinate is a malformed
// response, not a droppable row.
type directoryUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Website  string `json:"website"`
	Address  struct {
		Street  string `json:"street"`
		Suite   string `json:"suite"`
		City    string `json:"city"`
		Zipcode string `json:"zipcode"`
		Geo     struct {
			Lat string `json:"lat"`
			Lng string `json:"lng"`
		} `json:"geo"`
	} `json:"address"`
	Company struct {
		Name string `json:"name"`
	} `json:"company"`
}

// ListCustomers fetches all customers and flattens the nested address/geo
// fields into flat columns.
func (c *DirectoryClient) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var users []directoryUser
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	customers := make([]models.Customer, 0, len(users))
	for _, u := range users {
		lat, err := strconv.ParseFloat(u.Address.Geo.Lat, 64)
		if err != nil {
			return nil, fmt.Errorf("customer %d: malformed latitude %q: %w", u.ID, u.Address.Geo.Lat, err)
		}
		lng, err := strconv.ParseFloat(u.Address.Geo.Lng, 64)
		if err != nil {
			return nil, fmt.Errorf("customer %d: malformed longitude %q: %w", u.ID, u.Address.Geo.Lng, err)
		}
		customers = append(customers, models.Customer{
			ID:            u.ID,
			Name:          u.Name,
			Username:      u.Username,
			Email:         u.Email,
			Phone:         u.Phone,
			Website:       u.Website,
			AddressStreet: u.Address.Street,
			AddressSuite:  u.Address.Suite,
			AddressCity:   u.Address.City,
			AddressZip:    u.Address.Zipcode,
			Lat:           lat,
			Lng:           lng,
			CompanyName:   u.Company.Name,
		})
	}
	return customers, nil
}
