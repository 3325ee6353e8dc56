package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a coordinate with the street address shown to the rider.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
}

func (l Location) Coord() Coord { return Coord{Lat: l.Lat, Lon: l.Lon} }

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverOnTrip    DriverStatus = "on-trip"
	DriverOffline   DriverStatus = "offline"
)

type Driver struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	VehicleType  string       `json:"vehicleType"`
	LicensePlate string       `json:"licensePlate"`
	Location     Coord        `json:"currentLocation"`
	Status       DriverStatus `json:"status"`
}

// Snapshot copies the fields a ride keeps about its driver at assignment time.
func (d Driver) Snapshot() DriverSnapshot {
	return DriverSnapshot{
		ID:           d.ID,
		Name:         d.Name,
		VehicleType:  d.VehicleType,
		LicensePlate: d.LicensePlate,
		Location:     d.Location,
	}
}

type DriverSnapshot struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	VehicleType  string `json:"vehicleType"`
	LicensePlate string `json:"licensePlate"`
	Location     Coord  `json:"currentLocation"`
}

// Kind identifies which lifecycle track a trip runs on.
type Kind string

const (
	KindFood    Kind = "food"
	KindGrocery Kind = "grocery"
	KindRide    Kind = "ride"
)

func (k Kind) IsOrder() bool { return k == KindFood || k == KindGrocery }

// Phase is one named step of a trip's status sequence.
type Phase string

const (
	PhasePending        Phase = "Pending"
	PhaseConfirmed      Phase = "Confirmed"
	PhasePreparing      Phase = "Preparing"
	PhasePicking        Phase = "Picking"
	PhaseOutForDelivery Phase = "OutForDelivery"
	PhaseDelivered      Phase = "Delivered"

	PhaseSearching      Phase = "Searching"
	PhaseDriverAssigned Phase = "DriverAssigned"
	PhaseEnRoute        Phase = "EnRoute"
	PhaseArrivingSoon   Phase = "ArrivingSoon"
	PhaseCompleted      Phase = "Completed"
)

type LineItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Type            Kind       `json:"type"`
	Items           []LineItem `json:"items"`
	Total           int64      `json:"total"`
	DeliveryAddress string     `json:"deliveryAddress"`
	RestaurantID    string     `json:"restaurantId,omitempty"`
	StoreID         string     `json:"storeId,omitempty"`
	Status          Phase      `json:"status"`
	ETA             int        `json:"eta"`
	CreatedAt       time.Time  `json:"timestamp"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	items := make([]LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

type Ride struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Pickup    Location       `json:"pickup"`
	Dropoff   Location       `json:"dropoff"`
	Driver    DriverSnapshot `json:"driver"`
	Fare      int64          `json:"fare"`
	Status    Phase          `json:"status"`
	ETA       int            `json:"eta"`
	CreatedAt time.Time      `json:"timestamp"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// HistoryEntry is the read-only projection used by the unified activity feed.
type HistoryEntry struct {
	ServiceType string    `json:"serviceType"`
	Kind        Kind      `json:"kind"`
	ID          string    `json:"id"`
	Status      Phase     `json:"status"`
	CreatedAt   time.Time `json:"timestamp"`
	Order       *Order    `json:"order,omitempty"`
	Ride        *Ride     `json:"ride,omitempty"`
}

// TripEvent is emitted for every lifecycle transition, including the initial phase.
type TripEvent struct {
	TripID     string    `json:"tripId"`
	Kind       Kind      `json:"kind"`
	UserID     string    `json:"userId"`
	Status     Phase     `json:"status"`
	PhaseIndex int       `json:"phaseIndex"`
	ETA        int       `json:"eta"`
	Terminal   bool      `json:"terminal"`
	DriverID   string    `json:"driverId,omitempty"`
	At         time.Time `json:"at"`
}
