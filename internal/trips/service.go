// Package trips is the request-facing core: it validates and creates orders
// and rides, starts their lifecycle and fans transitions out to sinks.
package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/example/superapp-dispatch/internal/geo"
	"github.com/example/superapp-dispatch/internal/history"
	"github.com/example/superapp-dispatch/internal/lifecycle"
	"github.com/example/superapp-dispatch/internal/matcher"
	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/observability"
	"github.com/example/superapp-dispatch/internal/storage"
)

// Lifecycle starts the timer-driven status progression of a record.
type Lifecycle interface {
	Start(id string, kind models.Kind) (lifecycle.State, error)
}

// DriverMirror receives driver state after every commit and release.
type DriverMirror interface {
	Upsert(ctx context.Context, d models.Driver) error
	Seed(ctx context.Context, drivers []models.Driver) error
}

// Archive stores finished trips.
type Archive interface {
	ArchiveOrder(ctx context.Context, o models.Order) error
	ArchiveRide(ctx context.Context, r models.Ride) error
}

// EventSink receives every lifecycle transition.
type EventSink interface {
	PublishTripEvent(ctx context.Context, e models.TripEvent) error
}

type namedSink struct {
	name string
	sink EventSink
}

type Service struct {
	Store      storage.Store
	Matcher    *matcher.Service
	Feed       *history.Aggregator
	Lifecycle  Lifecycle
	Projection geo.Projection
	// TrackWindow is how long a ride takes to move from pickup to dropoff on the map.
	TrackWindow time.Duration

	Mirror  DriverMirror // optional
	Archive Archive      // optional

	Clock  clockwork.Clock
	NewID  func() string
	logger *slog.Logger
	sinks  []namedSink
}

func New(store storage.Store, m *matcher.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:       store,
		Matcher:     m,
		Feed:        history.New(store),
		Projection:  geo.DefaultProjection(),
		TrackWindow: 20 * time.Second,
		Clock:       clockwork.NewRealClock(),
		NewID:       uuid.NewString,
		logger:      logger,
	}
}

// AddSink registers an event sink; name labels its failures in metrics and logs.
func (s *Service) AddSink(name string, sink EventSink) {
	s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
}

func (s *Service) id(kind models.Kind) string {
	prefix := "order_"
	if kind == models.KindRide {
		prefix = "ride_"
	}
	return prefix + s.NewID()
}

func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (models.Order, error) {
	if err := req.Validate(); err != nil {
		observability.TripsRejected.WithLabelValues(string(req.Type), "validation").Inc()
		return models.Order{}, err
	}
	track, err := lifecycle.TrackFor(req.Type)
	if err != nil {
		return models.Order{}, err
	}
	now := s.Clock.Now().UTC()
	o := models.Order{
		ID:              s.id(req.Type),
		UserID:          req.UserID,
		Type:            req.Type,
		Items:           append([]models.LineItem(nil), req.Items...),
		Total:           req.Total(),
		DeliveryAddress: req.DeliveryAddress,
		Status:          track.Initial(),
		ETA:             track.TotalETA,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Type == models.KindFood {
		o.RestaurantID = req.RestaurantID
	} else {
		o.StoreID = req.StoreID
	}
	if err := s.Store.UpsertOrder(ctx, o); err != nil {
		return models.Order{}, fmt.Errorf("store order: %w", err)
	}
	if _, err := s.Lifecycle.Start(o.ID, o.Type); err != nil {
		s.discard(ctx, o.Type, o.ID)
		return models.Order{}, fmt.Errorf("start lifecycle: %w", err)
	}
	observability.TripsCreated.WithLabelValues(string(o.Type)).Inc()
	s.logger.Info("order placed", "order_id", o.ID, "type", o.Type, "user_id", o.UserID, "total", o.Total)
	return o, nil
}

func (s *Service) RequestRide(ctx context.Context, req RideRequest) (models.Ride, error) {
	if err := req.Validate(); err != nil {
		observability.TripsRejected.WithLabelValues(string(models.KindRide), "validation").Inc()
		return models.Ride{}, err
	}
	driver, err := s.Matcher.RequestMatch(ctx)
	if err != nil {
		if errors.Is(err, matcher.ErrNoDriverAvailable) {
			observability.TripsRejected.WithLabelValues(string(models.KindRide), "no_capacity").Inc()
		}
		return models.Ride{}, err
	}
	track, err := lifecycle.TrackFor(models.KindRide)
	if err != nil {
		s.release(ctx, driver.ID)
		return models.Ride{}, err
	}
	now := s.Clock.Now().UTC()
	r := models.Ride{
		ID:        s.id(models.KindRide),
		UserID:    req.UserID,
		Pickup:    *req.Pickup,
		Dropoff:   *req.Dropoff,
		Driver:    driver.Snapshot(),
		Fare:      s.Matcher.Fare(),
		Status:    track.Initial(),
		ETA:       track.TotalETA,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.UpsertRide(ctx, r); err != nil {
		s.release(ctx, driver.ID)
		return models.Ride{}, fmt.Errorf("store ride: %w", err)
	}
	s.mirror(ctx, driver)
	s.refreshAvailable(ctx)
	if _, err := s.Lifecycle.Start(r.ID, models.KindRide); err != nil {
		s.discard(ctx, models.KindRide, r.ID)
		s.release(ctx, driver.ID)
		return models.Ride{}, fmt.Errorf("start lifecycle: %w", err)
	}
	observability.TripsCreated.WithLabelValues(string(models.KindRide)).Inc()
	s.logger.Info("ride requested", "ride_id", r.ID, "user_id", r.UserID, "driver_id", driver.ID, "fare", r.Fare)
	return r, nil
}

// PlaceTrip decodes payload according to kind and creates the trip. The
// result is a models.Order for food and grocery and a models.Ride for rides.
func (s *Service) PlaceTrip(ctx context.Context, kind models.Kind, payload []byte) (any, error) {
	switch {
	case kind.IsOrder():
		var req PlaceOrderRequest
		if err := decodeStrict(payload, &req); err != nil {
			return nil, err
		}
		if req.Type == "" {
			req.Type = kind
		}
		if req.Type != kind {
			return nil, models.Invalid("type %q does not match %q", req.Type, kind)
		}
		return s.PlaceOrder(ctx, req)
	case kind == models.KindRide:
		var req RideRequest
		if err := decodeStrict(payload, &req); err != nil {
			return nil, err
		}
		return s.RequestRide(ctx, req)
	default:
		observability.TripsRejected.WithLabelValues("unknown", "validation").Inc()
		return nil, models.Invalid("unknown trip kind %q", kind)
	}
}

func decodeStrict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.Invalid("malformed body: %v", err)
	}
	return nil
}

func (s *Service) ListAvailableDrivers(ctx context.Context) []models.Driver {
	return s.Store.ListDrivers(ctx, storage.DriverFilter{Status: models.DriverAvailable})
}

func (s *Service) History(ctx context.Context, userID string) []models.HistoryEntry {
	return s.Feed.For(ctx, userID)
}

func (s *Service) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return s.Store.GetOrder(ctx, id)
}

func (s *Service) GetRide(ctx context.Context, id string) (models.Ride, error) {
	return s.Store.GetRide(ctx, id)
}

// TripStatus reports the current state of an order or ride as a trip event.
func (s *Service) TripStatus(ctx context.Context, id string) (models.TripEvent, error) {
	var (
		ev    models.TripEvent
		stamp time.Time
	)
	if o, err := s.Store.GetOrder(ctx, id); err == nil {
		ev = models.TripEvent{TripID: o.ID, Kind: o.Type, UserID: o.UserID, Status: o.Status, ETA: o.ETA}
		stamp = o.UpdatedAt
	} else if r, rerr := s.Store.GetRide(ctx, id); rerr == nil {
		ev = models.TripEvent{TripID: r.ID, Kind: models.KindRide, UserID: r.UserID, Status: r.Status, ETA: r.ETA, DriverID: r.Driver.ID}
		stamp = r.UpdatedAt
	} else {
		return models.TripEvent{}, rerr
	}
	track, err := lifecycle.TrackFor(ev.Kind)
	if err != nil {
		return models.TripEvent{}, err
	}
	ev.PhaseIndex = track.Index(ev.Status)
	ev.Terminal = ev.Status == track.Terminal()
	ev.At = stamp.UTC()
	return ev, nil
}

// RidePosition samples the simulated vehicle position of a ride, measured
// from the moment it was created.
func (s *Service) RidePosition(ctx context.Context, id string) (geo.Sample, error) {
	r, err := s.Store.GetRide(ctx, id)
	if err != nil {
		return geo.Sample{}, err
	}
	elapsed := s.Clock.Since(r.CreatedAt)
	return s.Projection.PositionAt(r.Pickup.Coord(), r.Dropoff.Coord(), elapsed, s.TrackWindow), nil
}

// discard drops a record whose lifecycle never started.
func (s *Service) discard(ctx context.Context, kind models.Kind, id string) {
	if err := s.Store.DeleteTrip(ctx, kind, id); err != nil {
		s.logger.Error("discard trip", "trip_id", id, "error", err)
	}
}

func (s *Service) release(ctx context.Context, driverID string) {
	d, err := s.Store.ReleaseDriver(ctx, driverID)
	if err != nil {
		s.logger.Error("release driver", "driver_id", driverID, "error", err)
		return
	}
	s.mirror(ctx, d)
	s.refreshAvailable(ctx)
}

func (s *Service) mirror(ctx context.Context, d models.Driver) {
	if s.Mirror == nil {
		return
	}
	if err := s.Mirror.Upsert(ctx, d); err != nil {
		observability.SinkErrors.WithLabelValues("mirror").Inc()
		s.logger.Warn("driver mirror update failed", "driver_id", d.ID, "error", err)
	}
}

func (s *Service) refreshAvailable(ctx context.Context) {
	observability.DriversAvailable.Set(float64(len(s.ListAvailableDrivers(ctx))))
}

// SeedMirror pushes the whole driver pool to the mirror.
func (s *Service) SeedMirror(ctx context.Context) {
	if s.Mirror != nil {
		if err := s.Mirror.Seed(ctx, s.Store.ListDrivers(ctx, storage.DriverFilter{})); err != nil {
			observability.SinkErrors.WithLabelValues("mirror").Inc()
			s.logger.Warn("seed driver mirror", "error", err)
		}
	}
	s.refreshAvailable(ctx)
}
