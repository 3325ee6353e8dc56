package trips

import (
	"context"

	"github.com/example/superapp-dispatch/internal/lifecycle"
	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/observability"
)

var _ lifecycle.Observer = (*Service)(nil)

// OnTransition records a lifecycle step in the store, publishes it and, on the
// terminal phase, archives the trip and frees the driver of a ride.
func (s *Service) OnTransition(ctx context.Context, tr lifecycle.Transition) {
	st := tr.State
	if err := s.Store.UpdateStatus(ctx, tr.Kind, tr.ID, st.Phase, st.ETA); err != nil {
		s.logger.Error("update trip status", "trip_id", tr.ID, "status", st.Phase, "error", err)
		return
	}
	observability.PhaseTransitions.WithLabelValues(string(tr.Kind), string(st.Phase)).Inc()

	ev := models.TripEvent{
		TripID:     tr.ID,
		Kind:       tr.Kind,
		Status:     st.Phase,
		PhaseIndex: st.Index,
		ETA:        st.ETA,
		Terminal:   st.Terminal,
		At:         tr.At.UTC(),
	}

	if tr.Kind == models.KindRide {
		r, err := s.Store.GetRide(ctx, tr.ID)
		if err != nil {
			s.logger.Error("load ride", "ride_id", tr.ID, "error", err)
			return
		}
		ev.UserID, ev.DriverID = r.UserID, r.Driver.ID
		if st.Terminal {
			s.release(context.WithoutCancel(ctx), r.Driver.ID)
			s.archiveRide(ctx, r)
		}
	} else {
		o, err := s.Store.GetOrder(ctx, tr.ID)
		if err != nil {
			s.logger.Error("load order", "order_id", tr.ID, "error", err)
			return
		}
		ev.UserID = o.UserID
		if st.Terminal {
			s.archiveOrder(ctx, o)
		}
	}

	s.logger.Info("trip status changed", "trip_id", tr.ID, "kind", tr.Kind, "status", st.Phase, "eta", st.ETA)
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev models.TripEvent) {
	for _, ns := range s.sinks {
		if err := ns.sink.PublishTripEvent(ctx, ev); err != nil {
			observability.SinkErrors.WithLabelValues(ns.name).Inc()
			s.logger.Warn("publish trip event", "sink", ns.name, "trip_id", ev.TripID, "error", err)
		}
	}
}

func (s *Service) archiveRide(ctx context.Context, r models.Ride) {
	if s.Archive == nil {
		return
	}
	if err := s.Archive.ArchiveRide(ctx, r); err != nil {
		observability.SinkErrors.WithLabelValues("archive").Inc()
		s.logger.Warn("archive ride", "ride_id", r.ID, "error", err)
	}
}

func (s *Service) archiveOrder(ctx context.Context, o models.Order) {
	if s.Archive == nil {
		return
	}
	if err := s.Archive.ArchiveOrder(ctx, o); err != nil {
		observability.SinkErrors.WithLabelValues("archive").Inc()
		s.logger.Warn("archive order", "order_id", o.ID, "error", err)
	}
}
