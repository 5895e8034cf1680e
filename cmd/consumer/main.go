package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/presence"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_status_events_consumed_total",
		Help: "Total driver status events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_status_events_invalid_total",
		Help: "Total invalid status events received",
	})
	mirrorUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_updates_total",
		Help: "Total successful presence mirror updates",
	})
	mirrorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_mirror_errors_total",
		Help: "Total presence mirror errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, mirrorUpdates, mirrorErrors)
}

// The consumer tails the driver-status topic and applies each presence
// toggle to the redis mirror so other instances can read a warm cache.
// The persisted flag in the primary store stays the authority; losing or
// replaying messages here only makes the cache stale, never wrong writes.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_STATUS_TOPIC")
	if topic == "" {
		topic = "driver-status"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "dispatch-presence-mirror"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mirror := presence.NewMirror(redisAddr, os.Getenv("REDIS_PASSWORD"))

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := mirror.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = mirror.Close()
	}()

	log.Printf("presence mirror consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var evt models.DriverStatusEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil || evt.DriverID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid status event: %v", err)
			continue
		}

		if err := updateMirrorWithRetry(ctx, mirror, evt, 3, 200*time.Millisecond); err != nil {
			mirrorErrors.Inc()
			log.Printf("mirror update failed for driver=%s: %v", evt.DriverID, err)
			continue
		}
		mirrorUpdates.Inc()
	}
}

// PresenceUpdater is the small subset of mirror operations we need for
// tests and production.
type PresenceUpdater interface {
	Apply(ctx context.Context, city, driverID string, online bool) error
}

// updateMirrorWithRetry applies a status event with retry/backoff.
func updateMirrorWithRetry(ctx context.Context, m PresenceUpdater, evt models.DriverStatusEvent, attempts int, delay time.Duration) error {
	var last error
	for i := 0; i < attempts; i++ {
		if err := m.Apply(ctx, evt.City, evt.DriverID, evt.Online); err != nil {
			last = err
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return last
}
