package history

import (
	"context"
	"testing"
	"time"

	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/storage"
)

func TestForMergesNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore(nil)
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2, t3 := t1.Add(2*time.Minute), t1.Add(3*time.Minute)

	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "o1", UserID: "u1", Type: models.KindFood, Status: models.PhasePending, CreatedAt: t1}))
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "o2", UserID: "u1", Type: models.KindGrocery, Status: models.PhaseDelivered, CreatedAt: t3}))
	mustOK(t, st.UpsertRide(ctx, models.Ride{ID: "r1", UserID: "u1", Status: models.PhaseEnRoute, CreatedAt: t2}))
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "other", UserID: "u2", Type: models.KindFood, CreatedAt: t3}))

	got := New(st).For(ctx, "u1")
	want := []struct {
		id    string
		label string
	}{{"o2", "Grocery Order"}, {"r1", "Ride"}, {"o1", "Food Order"}}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID != w.id || got[i].ServiceType != w.label {
			t.Fatalf("entry %d = %s/%s, want %s/%s", i, got[i].ID, got[i].ServiceType, w.id, w.label)
		}
	}
	if got[1].Ride == nil || got[1].Order != nil {
		t.Fatal("ride entry should carry only the ride")
	}
	if got[0].Order == nil || got[0].Status != models.PhaseDelivered {
		t.Fatalf("unexpected order entry %+v", got[0])
	}
}

func TestForUnknownUserIsEmpty(t *testing.T) {
	got := New(storage.NewMemoryStore(nil)).For(context.Background(), "nobody")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil feed, got %#v", got)
	}
}

func TestForEntriesDoNotAlias(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore(nil)
	now := time.Now()
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "a", UserID: "u", Type: models.KindFood, CreatedAt: now}))
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "b", UserID: "u", Type: models.KindFood, CreatedAt: now.Add(time.Second)}))

	got := New(st).For(ctx, "u")
	if got[0].Order == got[1].Order {
		t.Fatal("entries share one order pointer")
	}
	got[0].Order.Status = models.PhaseDelivered
	o, _ := st.GetOrder(ctx, got[0].ID)
	if o.Status == models.PhaseDelivered {
		t.Fatal("mutating a feed entry changed the store")
	}
}

func TestForEqualTimestampsKeepOrdersFirst(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore(nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// the ride is stored first so creation order alone would put it ahead
	mustOK(t, st.UpsertRide(ctx, models.Ride{ID: "r1", UserID: "u1", Status: models.PhaseSearching, CreatedAt: at}))
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "o1", UserID: "u1", Type: models.KindFood, CreatedAt: at}))
	mustOK(t, st.UpsertOrder(ctx, models.Order{ID: "o2", UserID: "u1", Type: models.KindGrocery, CreatedAt: at}))

	got := New(st).For(ctx, "u1")
	want := []string{"o1", "o2", "r1"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("entry %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
