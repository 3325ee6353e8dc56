package matcher

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/observability"
	"github.com/example/superapp-dispatch/internal/storage"
)

// ErrNoDriverAvailable means the pool is temporarily exhausted; callers may retry.
var ErrNoDriverAvailable = errors.New("no drivers available at the moment")

// Fare bounds in currency units, inclusive.
const (
	FareMin = 100
	FareMax = 250
)

// Rand is the randomness source used for driver selection and fares.
// Implementations must be safe for concurrent use: IntN is called inside the
// store's driver lock by RequestMatch and without any lock by Fare.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// DriverCommitter is the slice of the entity store the matcher needs.
type DriverCommitter interface {
	CommitDriver(ctx context.Context, pick storage.PickFunc) (models.Driver, error)
}

type Service struct {
	Store DriverCommitter
	Rand  Rand // optional; defaults to the goroutine-safe math/rand global source
}

func New(store DriverCommitter, r Rand) *Service {
	return &Service{Store: store, Rand: r}
}

func (s *Service) rng() Rand {
	if s.Rand == nil {
		return globalRand{}
	}
	return s.Rand
}

// RequestMatch commits one uniformly chosen available driver to a trip and
// returns its state at the moment of assignment.
func (s *Service) RequestMatch(ctx context.Context) (models.Driver, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	r := s.rng()
	d, err := s.Store.CommitDriver(ctx, func(available []models.Driver) int {
		return r.IntN(len(available))
	})
	if errors.Is(err, storage.ErrPoolExhausted) {
		observability.MatchNoCapacityTotal.Inc()
		return models.Driver{}, ErrNoDriverAvailable
	}
	if err != nil {
		return models.Driver{}, err
	}
	observability.MatchesTotal.Inc()
	return d, nil
}

// Fare is a placeholder price, uniform over [FareMin, FareMax].
func (s *Service) Fare() int64 {
	return int64(FareMin + s.rng().IntN(FareMax-FareMin+1))
}
