package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/superapp-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPoolExhausted is returned by CommitDriver when no driver is available.
	ErrPoolExhausted = errors.New("no available driver")
)

type DriverFilter struct {
	Status models.DriverStatus // empty matches every driver
}

func (f DriverFilter) match(d models.Driver) bool {
	return f.Status == "" || d.Status == f.Status
}

// PickFunc chooses one of the available drivers by index.
type PickFunc func(available []models.Driver) int

// Store is the authoritative state of drivers, orders and rides.
// Every method hands out copies; callers never alias stored records.
type Store interface {
	ListDrivers(ctx context.Context, f DriverFilter) []models.Driver
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	// CommitDriver reads the available drivers, lets pick choose one and flips it
	// to on-trip, all inside one critical section.
	CommitDriver(ctx context.Context, pick PickFunc) (models.Driver, error)
	ReleaseDriver(ctx context.Context, id string) (models.Driver, error)

	UpsertOrder(ctx context.Context, o models.Order) error
	UpsertRide(ctx context.Context, r models.Ride) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	GetRide(ctx context.Context, id string) (models.Ride, error)
	UpdateStatus(ctx context.Context, kind models.Kind, id string, phase models.Phase, eta int) error
	// DeleteTrip removes a record that never started its lifecycle.
	DeleteTrip(ctx context.Context, kind models.Kind, id string) error
	ListByUser(ctx context.Context, userID string) ([]models.Order, []models.Ride)
}

type MemoryStore struct {
	dmu     sync.RWMutex
	drivers map[string]models.Driver

	mu     sync.RWMutex
	orders map[string]*models.Order
	rides  map[string]*models.Ride
	// insertion order, used to keep per-user listings stable
	orderSeq []string
	rideSeq  []string

	now func() time.Time
}

func NewMemoryStore(roster []models.Driver) *MemoryStore {
	m := &MemoryStore{
		drivers: make(map[string]models.Driver, len(roster)),
		orders:  make(map[string]*models.Order),
		rides:   make(map[string]*models.Ride),
		now:     time.Now,
	}
	for _, d := range roster {
		m.drivers[d.ID] = d
	}
	return m
}

func (m *MemoryStore) ListDrivers(_ context.Context, f DriverFilter) []models.Driver {
	m.dmu.RLock()
	defer m.dmu.RUnlock()
	return m.filterLocked(f)
}

func (m *MemoryStore) filterLocked(f DriverFilter) []models.Driver {
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if f.match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (models.Driver, error) {
	m.dmu.RLock()
	defer m.dmu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) CommitDriver(_ context.Context, pick PickFunc) (models.Driver, error) {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	available := m.filterLocked(DriverFilter{Status: models.DriverAvailable})
	if len(available) == 0 {
		return models.Driver{}, ErrPoolExhausted
	}
	i := pick(available)
	if i < 0 || i >= len(available) {
		return models.Driver{}, fmt.Errorf("pick returned index %d of %d", i, len(available))
	}
	d := available[i]
	d.Status = models.DriverOnTrip
	m.drivers[d.ID] = d
	return d, nil
}

func (m *MemoryStore) ReleaseDriver(_ context.Context, id string) (models.Driver, error) {
	m.dmu.Lock()
	defer m.dmu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	if d.Status == models.DriverOnTrip {
		d.Status = models.DriverAvailable
		m.drivers[id] = d
	}
	return d, nil
}

func (m *MemoryStore) UpsertOrder(_ context.Context, o models.Order) error {
	if o.ID == "" {
		return errors.New("order id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		m.orderSeq = append(m.orderSeq, o.ID)
	}
	c := o.Clone()
	m.orders[o.ID] = &c
	return nil
}

func (m *MemoryStore) UpsertRide(_ context.Context, r models.Ride) error {
	if r.ID == "" {
		return errors.New("ride id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		m.rideSeq = append(m.rideSeq, r.ID)
	}
	m.rides[r.ID] = &r
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	return *r, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, kind models.Kind, id string, phase models.Phase, eta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if kind == models.KindRide {
		r, ok := m.rides[id]
		if !ok {
			return fmt.Errorf("ride %s: %w", id, ErrNotFound)
		}
		r.Status, r.ETA, r.UpdatedAt = phase, eta, now
		return nil
	}
	o, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.Status, o.ETA, o.UpdatedAt = phase, eta, now
	return nil
}

func (m *MemoryStore) DeleteTrip(_ context.Context, kind models.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == models.KindRide {
		if _, ok := m.rides[id]; !ok {
			return fmt.Errorf("ride %s: %w", id, ErrNotFound)
		}
		delete(m.rides, id)
		m.rideSeq = without(m.rideSeq, id)
		return nil
	}
	if _, ok := m.orders[id]; !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	delete(m.orders, id)
	m.orderSeq = without(m.orderSeq, id)
	return nil
}

func without(seq []string, id string) []string {
	for i, v := range seq {
		if v == id {
			return append(seq[:i], seq[i+1:]...)
		}
	}
	return seq
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]models.Order, []models.Ride) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var orders []models.Order
	for _, id := range m.orderSeq {
		if o := m.orders[id]; o.UserID == userID {
			orders = append(orders, o.Clone())
		}
	}
	var rides []models.Ride
	for _, id := range m.rideSeq {
		if r := m.rides[id]; r.UserID == userID {
			rides = append(rides, *r)
		}
	}
	return orders, rides
}
