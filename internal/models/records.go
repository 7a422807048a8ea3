package models

// Customer is one row of bronze_customers: a directory API user with the
// nested address/geo structure flattened into columns.
type Customer struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	Website       string  `json:"website"`
	AddressStreet string  `json:"address_street"`
	AddressSuite  string  `json:"address_suite"`
	AddressCity   string  `json:"address_city"`
	AddressZip    string  `json:"address_zipcode"`
	Lat           float64 `json:"address_geo_lat"`
	Lng           float64 `json:"address_geo_lng"`
	CompanyName   string  `json:"company_name"`
}

// WeatherObservation is one row of bronze_weather: the current conditions at
// a customer's location, tagged with the customer that triggered the lookup.
// One observation per customer per run.
type WeatherObservation struct {
	CustomerID  int64   `json:"customer_id"`
	Description string  `json:"weather_description"`
	Temp        float64 `json:"main_temp"`
	FeelsLike   float64 `json:"main_feels_like"`
	Humidity    int64   `json:"main_humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	CloudsAll   int64   `json:"clouds_all"`
}

// Order is one row of bronze_orders, straight from the orders CSV. Multiple
// rows may share the same (customer, product) pair; order lines have no
// identity of their own.
type Order struct {
	CustomerID int64   `json:"customer_id"`
	ProductID  string  `json:"product_id"`
	Quantity   int64   `json:"quantity"`
	Price      float64 `json:"price"`
	OrderDate  string  `json:"order_date"`
}
