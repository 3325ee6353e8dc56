// Package history merges a user's orders and rides into one activity feed.
package history

import (
	"context"
	"sort"

	"github.com/example/superapp-dispatch/internal/models"
)

var labels = map[models.Kind]string{
	models.KindFood:    "Food Order",
	models.KindGrocery: "Grocery Order",
	models.KindRide:    "Ride",
}

// Label is the display name of a trip kind in the feed.
func Label(k models.Kind) string { return labels[k] }

type Source interface {
	ListByUser(ctx context.Context, userID string) ([]models.Order, []models.Ride)
}

type Aggregator struct {
	Source Source
}

func New(src Source) *Aggregator { return &Aggregator{Source: src} }

// For returns the user's trips newest first. Entries with equal timestamps keep
// orders ahead of rides, each in creation order.
func (a *Aggregator) For(ctx context.Context, userID string) []models.HistoryEntry {
	orders, rides := a.Source.ListByUser(ctx, userID)
	out := make([]models.HistoryEntry, 0, len(orders)+len(rides))
	for i := range orders {
		o := orders[i]
		out = append(out, models.HistoryEntry{
			ServiceType: Label(o.Type),
			Kind:        o.Type,
			ID:          o.ID,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt,
			Order:       &o,
		})
	}
	for i := range rides {
		r := rides[i]
		out = append(out, models.HistoryEntry{
			ServiceType: Label(models.KindRide),
			Kind:        models.KindRide,
			ID:          r.ID,
			Status:      r.Status,
			CreatedAt:   r.CreatedAt,
			Ride:        &r,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
