// Package lifecycle advances orders and rides through their status phases on a timer.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/superapp-dispatch/internal/models"
)

var ErrUnknownKind = errors.New("unknown trip kind")

// Track is the ordered phase sequence of one trip kind together with its ETA budget.
// ETA and tick values are in abstract time units; see Track.Interval.
type Track struct {
	Kind      models.Kind
	Phases    []models.Phase
	TotalETA  int
	TickUnits int
	Decrement int
}

var tracks = map[models.Kind]Track{
	models.KindFood: {
		Kind:      models.KindFood,
		Phases:    []models.Phase{models.PhasePending, models.PhaseConfirmed, models.PhasePreparing, models.PhaseOutForDelivery, models.PhaseDelivered},
		TotalETA:  20,
		TickUnits: 5,
		Decrement: 5,
	},
	models.KindGrocery: {
		Kind:      models.KindGrocery,
		Phases:    []models.Phase{models.PhasePending, models.PhaseConfirmed, models.PhasePicking, models.PhaseOutForDelivery, models.PhaseDelivered},
		TotalETA:  40,
		TickUnits: 10,
		Decrement: 10,
	},
	models.KindRide: {
		Kind:      models.KindRide,
		Phases:    []models.Phase{models.PhaseSearching, models.PhaseDriverAssigned, models.PhaseEnRoute, models.PhaseArrivingSoon, models.PhaseCompleted},
		TotalETA:  15,
		TickUnits: 5,
		Decrement: 5,
	},
}

// TrackFor returns a copy of the track for kind.
func TrackFor(kind models.Kind) (Track, error) {
	t, ok := tracks[kind]
	if !ok {
		return Track{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	t.Phases = slices.Clone(t.Phases)
	return t, nil
}

// Interval is the wall-clock time between two ticks.
func (t Track) Interval(unit time.Duration) time.Duration {
	return time.Duration(t.TickUnits) * unit
}

// Travel is the time a record needs to go from its first to its terminal phase.
func (t Track) Travel(unit time.Duration) time.Duration {
	return t.Interval(unit) * time.Duration(len(t.Phases)-1)
}

// Index returns the position of p in the track, or -1.
func (t Track) Index(p models.Phase) int {
	return slices.Index(t.Phases, p)
}

func (t Track) Initial() models.Phase { return t.Phases[0] }

func (t Track) Terminal() models.Phase { return t.Phases[len(t.Phases)-1] }
