package trips

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/superapp-dispatch/internal/lifecycle"
	"github.com/example/superapp-dispatch/internal/matcher"
	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/storage"
)

type recordingSink struct {
	ch chan models.TripEvent
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan models.TripEvent, 128)}
}

func (r *recordingSink) PublishTripEvent(_ context.Context, e models.TripEvent) error {
	r.ch <- e
	return nil
}

type failingSink struct{}

func (failingSink) PublishTripEvent(context.Context, models.TripEvent) error {
	return errors.New("broker down")
}

type fakeMirror struct {
	mu      sync.Mutex
	updates []models.Driver
}

func (f *fakeMirror) Upsert(_ context.Context, d models.Driver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, d)
	return nil
}

func (f *fakeMirror) Seed(ctx context.Context, drivers []models.Driver) error {
	for _, d := range drivers {
		if err := f.Upsert(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMirror) statuses(id string) []models.DriverStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DriverStatus
	for _, d := range f.updates {
		if d.ID == id {
			out = append(out, d.Status)
		}
	}
	return out
}

type fakeArchive struct {
	mu     sync.Mutex
	orders []models.Order
	rides  []models.Ride
}

func (f *fakeArchive) ArchiveOrder(_ context.Context, o models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return nil
}

func (f *fakeArchive) ArchiveRide(_ context.Context, r models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rides = append(f.rides, r)
	return nil
}

type harness struct {
	svc     *Service
	store   *storage.MemoryStore
	sink    *recordingSink
	mirror  *fakeMirror
	archive *fakeArchive
	sched   *lifecycle.Scheduler
}

func roster(n int) []models.Driver {
	out := make([]models.Driver, n)
	for i := range out {
		out[i] = models.Driver{
			ID:       fmt.Sprintf("driver%d", i+1),
			Name:     fmt.Sprintf("Driver %d", i+1),
			Location: models.Coord{Lat: 16.5, Lon: 80.6},
			Status:   models.DriverAvailable,
		}
	}
	return out
}

func newHarness(t *testing.T, clock clockwork.Clock, drivers int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore(roster(drivers))
	svc := New(store, matcher.New(store, nil), logger)
	svc.Clock = clock
	var seq atomic.Int64
	svc.NewID = func() string { return fmt.Sprintf("%04d", seq.Add(1)) }

	h := &harness{svc: svc, store: store, sink: newRecordingSink(), mirror: &fakeMirror{}, archive: &fakeArchive{}}
	svc.Mirror = h.mirror
	svc.Archive = h.archive
	svc.AddSink("test", h.sink)
	h.sched = lifecycle.NewScheduler(clock, time.Second, svc, logger)
	svc.Lifecycle = h.sched
	t.Cleanup(func() { _ = h.sched.Close(context.Background()) })
	return h
}

func (h *harness) next(t *testing.T) models.TripEvent {
	t.Helper()
	select {
	case e := <-h.sink.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trip event")
	}
	return models.TripEvent{}
}

func foodRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		UserID: "user1",
		Type:   models.KindFood,
		Items: []models.LineItem{
			{ID: "m1", Name: "Biryani", Price: 250, Quantity: 2},
			{ID: "m2", Name: "Lassi", Price: 60, Quantity: 1},
		},
		DeliveryAddress: "12 MG Road",
		RestaurantID:    "rest1",
	}
}

func rideRequest() RideRequest {
	return RideRequest{
		UserID:  "user1",
		Pickup:  &models.Location{Lat: 16.51, Lon: 80.65, Address: "Benz Circle"},
		Dropoff: &models.Location{Lat: 16.45, Lon: 80.55, Address: "Airport"},
	}
}

func TestPlaceOrderCreatesPendingOrder(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	ctx := context.Background()

	o, err := h.svc.PlaceOrder(ctx, foodRequest())
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !strings.HasPrefix(o.ID, "order_") {
		t.Fatalf("unexpected id %q", o.ID)
	}
	if o.Status != models.PhasePending || o.ETA != 20 || o.Total != 560 {
		t.Fatalf("unexpected order %+v", o)
	}
	if o.RestaurantID != "rest1" || o.StoreID != "" {
		t.Fatalf("source ids wrong: %+v", o)
	}

	stored, err := h.store.GetOrder(ctx, o.ID)
	if err != nil || stored.Status != models.PhasePending {
		t.Fatalf("stored order %+v, %v", stored, err)
	}
	e := h.next(t)
	if e.TripID != o.ID || e.Status != models.PhasePending || e.UserID != "user1" || e.PhaseIndex != 0 {
		t.Fatalf("unexpected initial event %+v", e)
	}
}

func TestPlaceOrderValidationLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	ctx := context.Background()

	cases := map[string]func(r *PlaceOrderRequest){
		"missing user":      func(r *PlaceOrderRequest) { r.UserID = "" },
		"bad type":          func(r *PlaceOrderRequest) { r.Type = "laundry" },
		"no items":          func(r *PlaceOrderRequest) { r.Items = nil },
		"zero quantity":     func(r *PlaceOrderRequest) { r.Items[0].Quantity = 0 },
		"negative price":    func(r *PlaceOrderRequest) { r.Items[1].Price = -1 },
		"missing address":   func(r *PlaceOrderRequest) { r.DeliveryAddress = " " },
		"food no rest":      func(r *PlaceOrderRequest) { r.RestaurantID = "" },
		"grocery no store":  func(r *PlaceOrderRequest) { r.Type = models.KindGrocery },
		"item without name": func(r *PlaceOrderRequest) { r.Items[0].Name = "" },
		"overflowing price": func(r *PlaceOrderRequest) { r.Items[0].Price = math.MaxInt64 },
		"huge quantity":     func(r *PlaceOrderRequest) { r.Items[0].Quantity = math.MaxInt32 },
		"too many items": func(r *PlaceOrderRequest) {
			r.Items = make([]models.LineItem, MaxItems+1)
			for i := range r.Items {
				r.Items[i] = models.LineItem{ID: fmt.Sprintf("m%d", i), Name: "Idli", Price: 10, Quantity: 1}
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := foodRequest()
			mutate(&req)
			if _, err := h.svc.PlaceOrder(ctx, req); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if orders, rides := h.store.ListByUser(ctx, "user1"); len(orders)+len(rides) != 0 {
		t.Fatalf("store mutated: %d orders, %d rides", len(orders), len(rides))
	}
	if h.sched.Active() != 0 {
		t.Fatalf("lifecycle started for invalid order")
	}
}

func TestGroceryOrderWalksToDelivered(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := newHarness(t, fc, 1)
	ctx := context.Background()

	req := foodRequest()
	req.Type, req.RestaurantID, req.StoreID = models.KindGrocery, "", "store7"
	o, err := h.svc.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if o.ETA != 40 || o.StoreID != "store7" {
		t.Fatalf("unexpected order %+v", o)
	}
	h.next(t)

	var last models.TripEvent
	for i := 0; i < 4; i++ {
		fc.BlockUntil(1)
		fc.Advance(10 * time.Second)
		last = h.next(t)
	}
	if last.Status != models.PhaseDelivered || last.ETA != 0 || !last.Terminal {
		t.Fatalf("unexpected final event %+v", last)
	}
	stored, _ := h.store.GetOrder(ctx, o.ID)
	if stored.Status != models.PhaseDelivered || stored.ETA != 0 {
		t.Fatalf("stored order not delivered: %+v", stored)
	}
	h.archive.mu.Lock()
	defer h.archive.mu.Unlock()
	if len(h.archive.orders) != 1 || h.archive.orders[0].Status != models.PhaseDelivered {
		t.Fatalf("order not archived: %+v", h.archive.orders)
	}
}

func TestRequestRideConcurrentCapacity(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	rides := make(chan models.Ride, 4)
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, err := h.svc.RequestRide(ctx, rideRequest())
			if err != nil {
				errs <- err
				return
			}
			rides <- r
		}()
	}
	close(start)
	wg.Wait()
	close(rides)
	close(errs)

	seen := map[string]bool{}
	for r := range rides {
		if seen[r.Driver.ID] {
			t.Fatalf("driver %s assigned twice", r.Driver.ID)
		}
		seen[r.Driver.ID] = true
		if r.Fare < matcher.FareMin || r.Fare > matcher.FareMax {
			t.Fatalf("fare %d out of range", r.Fare)
		}
		if r.Status != models.PhaseSearching || r.ETA != 15 {
			t.Fatalf("unexpected ride %+v", r)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 rides, got %d", len(seen))
	}
	n := 0
	for err := range errs {
		if !errors.Is(err, matcher.ErrNoDriverAvailable) {
			t.Fatalf("unexpected error %v", err)
		}
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 capacity error, got %d", n)
	}
	if got := h.svc.ListAvailableDrivers(ctx); len(got) != 0 {
		t.Fatalf("expected no available drivers, got %d", len(got))
	}
}

func TestRideCompletionReleasesDriver(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := newHarness(t, fc, 1)
	ctx := context.Background()

	r, err := h.svc.RequestRide(ctx, rideRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := h.svc.RequestRide(ctx, rideRequest()); !errors.Is(err, matcher.ErrNoDriverAvailable) {
		t.Fatalf("expected capacity error while driver busy, got %v", err)
	}
	if e := h.next(t); e.DriverID != "driver1" || e.Status != models.PhaseSearching {
		t.Fatalf("unexpected initial event %+v", e)
	}

	want := []models.Phase{models.PhaseDriverAssigned, models.PhaseEnRoute, models.PhaseArrivingSoon, models.PhaseCompleted}
	for _, phase := range want {
		fc.BlockUntil(1)
		fc.Advance(5 * time.Second)
		if e := h.next(t); e.Status != phase {
			t.Fatalf("got %s, want %s", e.Status, phase)
		}
	}

	d, err := h.store.GetDriver(ctx, "driver1")
	if err != nil || d.Status != models.DriverAvailable {
		t.Fatalf("driver not released: %+v, %v", d, err)
	}
	stored, _ := h.svc.GetRide(ctx, r.ID)
	if stored.Status != models.PhaseCompleted || stored.ETA != 0 {
		t.Fatalf("stored ride %+v", stored)
	}
	got := h.mirror.statuses("driver1")
	if len(got) != 2 || got[0] != models.DriverOnTrip || got[1] != models.DriverAvailable {
		t.Fatalf("mirror saw %v", got)
	}
	if _, err := h.svc.RequestRide(ctx, rideRequest()); err != nil {
		t.Fatalf("released driver should be matchable: %v", err)
	}
}

func TestRequestRideValidationDoesNotCommitDriver(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	ctx := context.Background()

	cases := map[string]func(r *RideRequest){
		"missing user":    func(r *RideRequest) { r.UserID = "" },
		"missing pickup":  func(r *RideRequest) { r.Pickup = nil },
		"missing dropoff": func(r *RideRequest) { r.Dropoff = nil },
		"bad latitude":    func(r *RideRequest) { r.Pickup.Lat = 91 },
		"bad longitude":   func(r *RideRequest) { r.Dropoff.Lon = -181 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := rideRequest()
			mutate(&req)
			if _, err := h.svc.RequestRide(ctx, req); !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if got := h.svc.ListAvailableDrivers(ctx); len(got) != 1 {
		t.Fatalf("driver committed by invalid request")
	}
}

func TestRidePositionFollowsClock(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := newHarness(t, fc, 1)
	ctx := context.Background()

	r, err := h.svc.RequestRide(ctx, rideRequest())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	start := h.svc.Projection.Project(r.Pickup.Coord())
	end := h.svc.Projection.Project(r.Dropoff.Coord())

	s, err := h.svc.RidePosition(ctx, r.ID)
	if err != nil || s.Point != start || s.Progress != 0 {
		t.Fatalf("at creation: %+v, %v", s, err)
	}

	fc.Advance(h.svc.TrackWindow / 2)
	s, _ = h.svc.RidePosition(ctx, r.ID)
	if math.Abs(s.Progress-0.5) > 1e-9 || math.Abs(s.X-(start.X+end.X)/2) > 1e-9 {
		t.Fatalf("at half window: %+v", s)
	}

	fc.Advance(h.svc.TrackWindow)
	s, _ = h.svc.RidePosition(ctx, r.ID)
	if s.Point != end || s.Progress != 1 {
		t.Fatalf("after window: %+v, want %+v", s, end)
	}

	if _, err := h.svc.RidePosition(ctx, "ride_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPlaceTripDispatchesByKind(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	ctx := context.Background()

	got, err := h.svc.PlaceTrip(ctx, models.KindGrocery, []byte(`{"userId":"u9","items":[{"id":"g1","name":"Rice","price":80,"quantity":3}],"deliveryAddress":"x","storeId":"s1"}`))
	if err != nil {
		t.Fatalf("grocery: %v", err)
	}
	o, ok := got.(models.Order)
	if !ok || o.Type != models.KindGrocery || o.Total != 240 {
		t.Fatalf("unexpected result %#v", got)
	}

	got, err = h.svc.PlaceTrip(ctx, models.KindRide, []byte(`{"userId":"u9","pickup":{"lat":16.5,"lon":80.6},"dropoff":{"lat":16.52,"lon":80.7}}`))
	if err != nil {
		t.Fatalf("ride: %v", err)
	}
	if _, ok := got.(models.Ride); !ok {
		t.Fatalf("expected ride, got %T", got)
	}

	bad := []struct {
		kind    models.Kind
		payload string
	}{
		{"laundry", `{}`},
		{models.KindFood, `{"type":"grocery"}`},
		{models.KindFood, `{"userId":`},
		{models.KindRide, `{"userId":"u","surprise":true}`},
	}
	for _, b := range bad {
		if _, err := h.svc.PlaceTrip(ctx, b.kind, []byte(b.payload)); !errors.Is(err, models.ErrValidation) {
			t.Fatalf("%s %s: expected validation error, got %v", b.kind, b.payload, err)
		}
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := newHarness(t, fc, 2)
	ctx := context.Background()

	first, err := h.svc.PlaceOrder(ctx, foodRequest())
	if err != nil {
		t.Fatal(err)
	}
	fc.Advance(time.Second)
	ride, err := h.svc.RequestRide(ctx, rideRequest())
	if err != nil {
		t.Fatal(err)
	}
	fc.Advance(time.Second)
	req := foodRequest()
	req.Type, req.StoreID = models.KindGrocery, "s1"
	last, err := h.svc.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	feed := h.svc.History(ctx, "user1")
	ids := []string{}
	for _, e := range feed {
		ids = append(ids, e.ID)
	}
	want := []string{last.ID, ride.ID, first.ID}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("history = %v, want %v", ids, want)
	}
	if feed[0].ServiceType != "Grocery Order" || feed[1].ServiceType != "Ride" || feed[2].ServiceType != "Food Order" {
		t.Fatalf("unexpected labels %+v", feed)
	}
}

func TestSinkFailureDoesNotBlockTrip(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	h.svc.AddSink("broken", failingSink{})
	ctx := context.Background()

	o, err := h.svc.PlaceOrder(ctx, foodRequest())
	if err != nil {
		t.Fatalf("place order with failing sink: %v", err)
	}
	if e := h.next(t); e.TripID != o.ID {
		t.Fatalf("healthy sink missed event: %+v", e)
	}
}

func TestTripStatusSnapshot(t *testing.T) {
	fc := clockwork.NewFakeClock()
	h := newHarness(t, fc, 1)
	ctx := context.Background()

	r, err := h.svc.RequestRide(ctx, rideRequest())
	if err != nil {
		t.Fatal(err)
	}
	h.next(t)
	fc.BlockUntil(1)
	fc.Advance(5 * time.Second)
	h.next(t)

	ev, err := h.svc.TripStatus(ctx, r.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if ev.Status != models.PhaseDriverAssigned || ev.PhaseIndex != 1 || ev.ETA != 10 || ev.Terminal || ev.DriverID != "driver1" {
		t.Fatalf("unexpected snapshot %+v", ev)
	}
	if _, err := h.svc.TripStatus(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycleStartFailureLeavesNoTrip(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 1)
	ctx := context.Background()
	if err := h.sched.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.PlaceOrder(ctx, foodRequest()); !errors.Is(err, lifecycle.ErrClosed) {
		t.Fatalf("expected ErrClosed from PlaceOrder, got %v", err)
	}
	if _, err := h.svc.RequestRide(ctx, rideRequest()); !errors.Is(err, lifecycle.ErrClosed) {
		t.Fatalf("expected ErrClosed from RequestRide, got %v", err)
	}

	orders, rides := h.store.ListByUser(ctx, "user1")
	if len(orders) != 0 || len(rides) != 0 {
		t.Fatalf("failed requests left records: orders=%d rides=%d", len(orders), len(rides))
	}
	if feed := h.svc.History(ctx, "user1"); len(feed) != 0 {
		t.Fatalf("history shows failed trips: %+v", feed)
	}
	if got := h.svc.ListAvailableDrivers(ctx); len(got) != 1 {
		t.Fatalf("driver not released after failed ride, available=%d", len(got))
	}
}

func TestTotalAtLimitsStaysPositive(t *testing.T) {
	req := foodRequest()
	req.Items = make([]models.LineItem, MaxItems)
	for i := range req.Items {
		req.Items[i] = models.LineItem{ID: fmt.Sprintf("m%d", i), Name: "Thali", Price: MaxItemPrice, Quantity: MaxItemQuantity}
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("order at the limits rejected: %v", err)
	}
	want := int64(MaxItems) * MaxItemPrice * MaxItemQuantity
	if got := req.Total(); got != want || got <= 0 {
		t.Fatalf("Total() = %d, want %d", got, want)
	}
}

func TestSeedMirrorPushesWholePool(t *testing.T) {
	h := newHarness(t, clockwork.NewFakeClock(), 3)
	h.svc.SeedMirror(context.Background())
	for _, id := range []string{"driver1", "driver2", "driver3"} {
		got := h.mirror.statuses(id)
		if len(got) != 1 || got[0] != models.DriverAvailable {
			t.Fatalf("%s mirrored as %v", id, got)
		}
	}
}
