package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/superapp-dispatch/internal/config"
	"github.com/example/superapp-dispatch/internal/logging"
	"github.com/example/superapp-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total trip event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

var errInvalidEvent = errors.New("invalid trip event")

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConsumerConfig()
	logger := logging.New(os.Stdout, cfg.LogLevel, "trip-status-projector")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	radapter := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		if err := handleMessage(ctx, radapter, m, cfg.StatusTTL); err != nil {
			logger.Warn("trip event not projected", "key", string(m.Key), "offset", m.Offset, "error", err)
		}
	}
}

// handleMessage decodes one trip event and writes it to redis.
func handleMessage(ctx context.Context, rc RedisUpdater, m kafka.Message, ttl time.Duration) error {
	msgsConsumed.Inc()

	var e models.TripEvent
	if err := json.Unmarshal(m.Value, &e); err != nil {
		msgsInvalid.Inc()
		return fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if e.TripID == "" {
		msgsInvalid.Inc()
		return fmt.Errorf("%w: missing trip id", errInvalidEvent)
	}

	// Try updating Redis with retries and small backoff
	if err := updateRedisWithRetry(ctx, rc, &e, ttl, 3, 200*time.Millisecond); err != nil {
		redisErrors.Inc()
		return fmt.Errorf("redis update for trip %s: %w", e.TripID, err)
	}
	redisUpdates.Inc()
	return nil
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func (r *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func statusKey(tripID string) string { return "trip:status:" + tripID }

func statusFields(e *models.TripEvent) map[string]interface{} {
	return map[string]interface{}{
		"kind":       string(e.Kind),
		"userId":     e.UserID,
		"status":     string(e.Status),
		"phaseIndex": strconv.Itoa(e.PhaseIndex),
		"eta":        strconv.Itoa(e.ETA),
		"terminal":   strconv.FormatBool(e.Terminal),
		"driverId":   e.DriverID,
		"at":         e.At.UTC().Format(time.RFC3339Nano),
	}
}

// updateRedisWithRetry updates redis using the RedisUpdater interface with retry/backoff.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, e *models.TripEvent, ttl time.Duration, attempts int, delay time.Duration) error {
	key := statusKey(e.TripID)
	var err error
	for i := 0; i < attempts; i++ {
		if err = rc.HSet(ctx, key, statusFields(e)); err == nil && ttl > 0 {
			err = rc.Expire(ctx, key, ttl)
		}
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
