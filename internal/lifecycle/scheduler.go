package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/observability"
)

var (
	ErrAlreadyRunning = errors.New("lifecycle already running")
	ErrClosed         = errors.New("scheduler closed")
)

// Transition is emitted once when a record starts and again on every phase change.
type Transition struct {
	ID    string
	Kind  models.Kind
	State State
	At    time.Time
}

// Observer receives transitions. Calls for one record are sequential; calls for
// different records may run concurrently.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

// Scheduler owns one timer task per live record.
type Scheduler struct {
	clock    clockwork.Clock
	unit     time.Duration
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

type task struct {
	id     string
	kind   models.Kind
	cancel context.CancelFunc
	ticker clockwork.Ticker

	mu      sync.Mutex
	machine *Machine
}

func (t *task) state() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.State()
}

func (t *task) advance() (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Advance()
}

// NewScheduler builds a scheduler where one ETA unit lasts unit on clock.
// A nil clock means the real clock.
func NewScheduler(clock clockwork.Clock, unit time.Duration, observer Observer, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = ObserverFunc(func(context.Context, Transition) {})
	}
	return &Scheduler{
		clock:    clock,
		unit:     unit,
		observer: observer,
		logger:   logger,
		tasks:    make(map[string]*task),
	}
}

// Start registers id at the first phase of its track, notifies the observer of
// that state and begins ticking. It returns the initial state.
func (s *Scheduler) Start(id string, kind models.Kind) (State, error) {
	track, err := TrackFor(kind)
	if err != nil {
		return State{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:      id,
		kind:    kind,
		cancel:  cancel,
		machine: NewMachine(track),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return State{}, ErrClosed
	}
	if _, ok := s.tasks[id]; ok {
		s.mu.Unlock()
		cancel()
		return State{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	s.tasks[id] = t
	s.wg.Add(1)
	s.mu.Unlock()

	initial := t.state()
	observability.ActiveTrips.Inc()
	s.observer.OnTransition(ctx, Transition{ID: id, Kind: kind, State: initial, At: s.clock.Now()})

	// The ticker exists before Start returns so a fake clock advanced right
	// after Start is observed by the task.
	t.ticker = s.clock.NewTicker(track.Interval(s.unit))
	go s.run(ctx, t)
	return initial, nil
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.finish(t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.Chan():
			st, ok := t.advance()
			if !ok {
				return
			}
			s.logger.Debug("lifecycle transition", "id", t.id, "kind", t.kind, "status", st.Phase, "eta", st.ETA)
			s.observer.OnTransition(ctx, Transition{ID: t.id, Kind: t.kind, State: st, At: s.clock.Now()})
			if st.Terminal {
				return
			}
		}
	}
}

func (s *Scheduler) finish(t *task) {
	t.ticker.Stop()
	t.cancel()
	s.mu.Lock()
	if cur, ok := s.tasks[t.id]; ok && cur == t {
		delete(s.tasks, t.id)
	}
	s.mu.Unlock()
	observability.ActiveTrips.Dec()
	s.wg.Done()
}

// State returns the live state of a running record.
func (s *Scheduler) State(id string) (State, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return State{}, false
	}
	return t.state(), true
}

// Active is the number of records still ticking.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels the timer of id without emitting further transitions.
func (s *Scheduler) Stop(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Close cancels every task and waits for them to exit or for ctx to end.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
