package trips

import (
	"strings"

	"github.com/example/superapp-dispatch/internal/models"
)

// Order limits keep Total well inside int64.
const (
	MaxItems        = 100
	MaxItemPrice    = 1_000_000
	MaxItemQuantity = 1_000
)

type PlaceOrderRequest struct {
	UserID          string            `json:"userId"`
	Type            models.Kind       `json:"type"`
	Items           []models.LineItem `json:"items"`
	DeliveryAddress string            `json:"deliveryAddress"`
	RestaurantID    string            `json:"restaurantId,omitempty"`
	StoreID         string            `json:"storeId,omitempty"`
}

func (r PlaceOrderRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return models.Invalid("userId is required")
	}
	if !r.Type.IsOrder() {
		return models.Invalid("type must be food or grocery, got %q", r.Type)
	}
	if len(r.Items) == 0 {
		return models.Invalid("at least one item is required")
	}
	if len(r.Items) > MaxItems {
		return models.Invalid("at most %d items per order", MaxItems)
	}
	for i, it := range r.Items {
		if it.ID == "" || it.Name == "" {
			return models.Invalid("item %d needs an id and a name", i)
		}
		if it.Price < 0 || it.Price > MaxItemPrice {
			return models.Invalid("item %s price must be between 0 and %d", it.ID, MaxItemPrice)
		}
		if it.Quantity <= 0 || it.Quantity > MaxItemQuantity {
			return models.Invalid("item %s quantity must be between 1 and %d", it.ID, MaxItemQuantity)
		}
	}
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		return models.Invalid("deliveryAddress is required")
	}
	if r.Type == models.KindFood && r.RestaurantID == "" {
		return models.Invalid("food orders require a restaurantId")
	}
	if r.Type == models.KindGrocery && r.StoreID == "" {
		return models.Invalid("grocery orders require a storeId")
	}
	return nil
}

// Total is the sum of price times quantity over all items.
func (r PlaceOrderRequest) Total() int64 {
	var sum int64
	for _, it := range r.Items {
		sum += it.Price * int64(it.Quantity)
	}
	return sum
}

type RideRequest struct {
	UserID  string           `json:"userId"`
	Pickup  *models.Location `json:"pickup"`
	Dropoff *models.Location `json:"dropoff"`
}

func (r RideRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return models.Invalid("userId is required")
	}
	if r.Pickup == nil {
		return models.Invalid("pickup is required")
	}
	if r.Dropoff == nil {
		return models.Invalid("dropoff is required")
	}
	if err := validLocation("pickup", *r.Pickup); err != nil {
		return err
	}
	return validLocation("dropoff", *r.Dropoff)
}

func validLocation(field string, l models.Location) error {
	if l.Lat < -90 || l.Lat > 90 {
		return models.Invalid("%s latitude %v out of range", field, l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return models.Invalid("%s longitude %v out of range", field, l.Lon)
	}
	return nil
}
