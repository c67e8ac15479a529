// shareconsumer keeps the share-link viewer's Redis view of live shares in
// sync with telemetry from the app. Position events land in a geo set plus a
// per-session hash that expires with the session; ended events remove the
// session immediately so a viewer never sees a stale last position after the
// share stopped.
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
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/safety-core/internal/models"
)

const (
	geoSetKey        = "share_positions"
	sessionKeyPrefix = "share:session:"

	// how long a session hash may outlive its last update when the session
	// has no explicit expiry (premium open-ended shares)
	staleTTL = time.Hour
	// slack past the session expiry so the viewer can render "share ended"
	// rather than a blank page at the exact boundary
	expiryGrace = time.Minute
	// how long an ended session id is remembered, to drop late positions
	// still in flight on the topic
	endedRetention = 10 * time.Minute
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shareconsumer_events_consumed_total",
		Help: "Total share events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shareconsumer_events_invalid_total",
		Help: "Total undecodable or keyless messages",
	})
	positionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shareconsumer_positions_dropped_total",
		Help: "Positions dropped because their session already ended",
	})
	sessionsEnded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shareconsumer_sessions_ended_total",
		Help: "Sessions removed after an ended event",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shareconsumer_redis_errors_total",
		Help: "Redis writes that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, positionsDropped, sessionsEnded, redisErrors)
}

// sessionStore is the slice of redis the updater needs; tests swap in a fake.
type sessionStore interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ZRem(ctx context.Context, key string, member string) error
	Del(ctx context.Context, key string) error
}

// viewUpdater applies share events to the viewer's Redis state. It remembers
// recently ended sessions so positions still in flight on the topic do not
// resurrect a stopped share.
type viewUpdater struct {
	store     sessionStore
	ended     map[string]time.Time
	retention time.Duration
	attempts  int
	delay     time.Duration
}

func newViewUpdater(s sessionStore) *viewUpdater {
	return &viewUpdater{
		store:     s,
		ended:     make(map[string]time.Time),
		retention: endedRetention,
		attempts:  3,
		delay:     200 * time.Millisecond,
	}
}

func (v *viewUpdater) handle(ctx context.Context, e *models.ShareEvent) error {
	if e.Kind == models.ShareEventEnded {
		return v.applyEnded(ctx, e)
	}
	// kindless events predate the ended marker and are positions
	return v.applyPosition(ctx, e)
}

func (v *viewUpdater) applyPosition(ctx context.Context, e *models.ShareEvent) error {
	v.prune(time.Now())
	if _, gone := v.ended[e.SessionID]; gone {
		positionsDropped.Inc()
		return nil
	}
	key := sessionKeyPrefix + e.SessionID
	return v.withRetry(ctx, func(ctx context.Context) error {
		loc := &redis.GeoLocation{Longitude: e.Loc.Lon, Latitude: e.Loc.Lat, Name: e.SessionID}
		if err := v.store.GeoAdd(ctx, geoSetKey, loc); err != nil {
			return err
		}
		if err := v.store.HSet(ctx, key, map[string]interface{}{
			"lat": e.Loc.Lat, "lon": e.Loc.Lon, "updated": e.At.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return v.store.Expire(ctx, key, sessionTTL(e, time.Now()))
	})
}

func (v *viewUpdater) applyEnded(ctx context.Context, e *models.ShareEvent) error {
	v.ended[e.SessionID] = time.Now()
	v.prune(time.Now())
	sessionsEnded.Inc()
	return v.withRetry(ctx, func(ctx context.Context) error {
		if err := v.store.ZRem(ctx, geoSetKey, e.SessionID); err != nil {
			return err
		}
		return v.store.Del(ctx, sessionKeyPrefix+e.SessionID)
	})
}

func (v *viewUpdater) prune(now time.Time) {
	for id, at := range v.ended {
		if now.Sub(at) > v.retention {
			delete(v.ended, id)
		}
	}
}

func (v *viewUpdater) withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := v.delay
	var err error
	for i := 0; i < v.attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i < v.attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

// sessionTTL bounds how long the per-session hash lives: until the session's
// own expiry (plus grace), or a staleness window when it has none.
func sessionTTL(e *models.ShareEvent, now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return staleTTL
	}
	ttl := e.ExpiresAt.Sub(now) + expiryGrace
	if ttl < expiryGrace {
		ttl = expiryGrace
	}
	return ttl
}

type redisStore struct{ c *redis.Client }

func (r *redisStore) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisStore) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func (r *redisStore) ZRem(ctx context.Context, key string, member string) error {
	return r.c.ZRem(ctx, key, member).Err()
}

func (r *redisStore) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func serveOps(addr string, rc *redis.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	log.Printf("metrics/health listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}

func consume(ctx context.Context, r *kafka.Reader, v *viewUpdater) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down share consumer")
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
		eventsConsumed.Inc()

		var e models.ShareEvent
		if err := json.Unmarshal(m.Value, &e); err != nil || e.SessionID == "" {
			eventsInvalid.Inc()
			log.Printf("invalid share event: %v", err)
			continue
		}
		if err := v.handle(ctx, &e); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed for session=%s: %v", e.SessionID, err)
		}
	}
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{}
	for _, b := range strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",") {
		if s := strings.TrimSpace(b); s != "" {
			brokers = append(brokers, s)
		}
	}
	topic := envOr("KAFKA_TOPIC", "live-positions")
	group := envOr("KAFKA_GROUP", "share-consumer")

	rc := redis.NewClient(&redis.Options{Addr: envOr("REDIS_ADDR", "localhost:6379")})
	go serveOps(metricsAddr, rc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("share consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)
	consume(ctx, r, newViewUpdater(&redisStore{c: rc}))
}
