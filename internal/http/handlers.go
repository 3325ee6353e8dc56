package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/superapp-dispatch/internal/dispatch"
	"github.com/example/superapp-dispatch/internal/matcher"
	"github.com/example/superapp-dispatch/internal/models"
	"github.com/example/superapp-dispatch/internal/storage"
	"github.com/example/superapp-dispatch/internal/trips"
)

const maxBodyBytes = 1 << 20

type Server struct {
	Trips  *trips.Service
	WSHub  *dispatch.Hub
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *trips.Service, hub *dispatch.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Trips: svc, WSHub: hub, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/rides", s.handleRequestRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/position", s.handleRidePosition).Methods(http.MethodGet)
	api.HandleFunc("/trips/{kind}", s.handlePlaceTrip).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/history", s.handleHistory).Methods(http.MethodGet)
	api.PathPrefix("/").HandlerFunc(s.handlePreflight).Methods(http.MethodOptions)

	s.mux.HandleFunc("/ws/trips/{id}", s.handleTripWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req trips.PlaceOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := s.Trips.PlaceOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var req trips.RideRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.Trips.RequestRide(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handlePlaceTrip(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, models.Invalid("read body: %v", err))
		return
	}
	kind := models.Kind(mux.Vars(r)["kind"])
	out, err := s.Trips.PlaceTrip(r.Context(), kind, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Trips.ListAvailableDrivers(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Trips.History(r.Context(), mux.Vars(r)["userId"]))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Trips.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Trips.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRidePosition(w http.ResponseWriter, r *http.Request) {
	sample, err := s.Trips.RidePosition(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleTripWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()
	if _, err := s.Trips.TripStatus(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "trip_id", id, "error", err)
		return
	}
	s.WSHub.Serve(id, conn, func() (models.TripEvent, error) {
		return s.Trips.TripStatus(ctx, id)
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, models.Invalid("malformed body: %v", err))
		return false
	}
	return true
}

type errorBody struct {
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
	case errors.Is(err, matcher.ErrNoDriverAvailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "No drivers available at the moment. Please try again shortly."})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: err.Error()})
	default:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
