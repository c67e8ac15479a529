// Package routewatch watches a live position stream against a planned
// start-to-destination segment and raises alerts when the user strays.
package routewatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/safety-core/internal/geo"
	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/observability"
	"github.com/example/safety-core/internal/storage"
)

// Escalator is the SOS surface used for auto-escalation.
type Escalator interface {
	Dispatch(ctx context.Context, message string) models.DispatchOutcome
}

type State string

const (
	StateIdle     State = "idle"
	StateTracking State = "tracking"
	StateDeviated State = "deviated"
)

// ErrAlreadyTracking is returned when a session is already active.
var ErrAlreadyTracking = fmt.Errorf("route tracking already active")

// Monitor holds at most one tracking session. The cooldown limits
// re-notification, not detection: while off-route the monitor keeps
// evaluating every update but raises at most one alert per window.
type Monitor struct {
	Location     native.LocationProvider
	Escalate     Escalator // optional
	AutoEscalate bool
	Audit        storage.AuditLog // optional
	UserID       string
	Logger       *slog.Logger

	ThresholdMeters float64       // default 200
	Cooldown        time.Duration // default 5 minutes
	ArrivalRadiusM  float64       // default 50
	HistoryCap      int           // default 20

	mu          sync.Mutex
	state       State
	session     *models.RouteTrackingSession
	cancel      context.CancelFunc
	alerts      []models.DeviationAlert
	lastAlertAt time.Time
}

// Start begins tracking a route and subscribes to the position stream.
func (m *Monitor) Start(start, destination models.Coord) error {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyTracking
	}
	remaining := geo.Haversine(start, destination)
	m.session = &models.RouteTrackingSession{
		Start:             start,
		Destination:       destination,
		StartedAt:         time.Now(),
		Path:              []models.Coord{start},
		RemainingDistance: remaining,
		ETASeconds:        etaSeconds(remaining, 0, 0),
	}
	m.state = StateTracking
	// alert history belongs to the previous session; a fresh route starts clean
	m.alerts = nil
	m.lastAlertAt = time.Time{}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	ch, err := m.Location.Watch(ctx)
	if err != nil {
		m.Stop()
		return fmt.Errorf("subscribe position watch: %w", err)
	}
	go func() {
		for c := range ch {
			m.Update(c)
		}
	}()
	return nil
}

// Update consumes one position. Exposed so the stream goroutine and tests
// share the same path.
func (m *Monitor) Update(c models.Coord) {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	s := m.session
	prev := s.Path[len(s.Path)-1]
	s.Path = append(s.Path, c)
	s.DistanceTraveled += geo.Haversine(prev, c)
	s.RemainingDistance = geo.Haversine(c, s.Destination)
	s.ETASeconds = etaSeconds(s.RemainingDistance, s.DistanceTraveled, time.Since(s.StartedAt))

	if s.RemainingDistance <= m.arrivalRadius() {
		m.logger().Info("destination reached, stopping route tracking")
		m.stopLocked()
		m.mu.Unlock()
		return
	}

	dist := geo.DistanceToSegment(c, s.Start, s.Destination)
	offRoute := dist > m.threshold()
	if !offRoute {
		m.state = StateTracking
		m.mu.Unlock()
		return
	}
	m.state = StateDeviated

	if !m.lastAlertAt.IsZero() && time.Since(m.lastAlertAt) < m.cooldown() {
		m.mu.Unlock()
		return
	}
	m.lastAlertAt = time.Now()
	alert := models.DeviationAlert{DistanceMeters: dist, At: m.lastAlertAt, Escalated: m.AutoEscalate && m.Escalate != nil}
	// most-recent-first, bounded
	m.alerts = append([]models.DeviationAlert{alert}, m.alerts...)
	if limit := m.historyCap(); len(m.alerts) > limit {
		m.alerts = m.alerts[:limit]
	}
	escalate := alert.Escalated
	m.mu.Unlock()

	observability.DeviationAlertsTotal.Inc()
	m.logger().Warn("route deviation detected", "distance_m", dist)
	if m.Audit != nil {
		if err := m.Audit.SaveDeviation(m.UserID, alert); err != nil {
			m.logger().Warn("deviation audit failed", "error", err)
		}
	}
	if escalate {
		go func() {
			msg := fmt.Sprintf("I've gone off my planned route. Last seen near %.5f,%.5f.", c.Lat, c.Lon)
			m.Escalate.Dispatch(context.Background(), msg)
		}()
	}
}

// Stop clears session state entirely; no partial or paused state remains.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.session = nil
	m.state = StateIdle
	m.lastAlertAt = time.Time{}
}

// State returns the current tracking state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateIdle
	}
	return m.state
}

// Session returns a snapshot of the active tracking session, or nil.
func (m *Monitor) Session() *models.RouteTrackingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	cp.Path = append([]models.Coord(nil), m.session.Path...)
	return &cp
}

// Alerts returns the bounded alert history, most recent first. The history
// survives Stop for audit display and is cleared by the next Start.
func (m *Monitor) Alerts() []models.DeviationAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DeviationAlert(nil), m.alerts...)
}

// nominalSpeedMps is the pace assumed until enough movement has been
// observed to derive a real average. Walking speed; a routing engine would
// do better, but the estimate only feeds the circle's progress view.
const nominalSpeedMps = 1.4

// etaSeconds estimates time to destination from the session's observed
// average speed, falling back to the nominal pace early in the session or
// when the user is effectively stationary.
func etaSeconds(remaining, traveled float64, elapsed time.Duration) float64 {
	speed := nominalSpeedMps
	if elapsed > 30*time.Second && traveled > 0 {
		if observed := traveled / elapsed.Seconds(); observed > 0.3 {
			speed = observed
		}
	}
	return remaining / speed
}

func (m *Monitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Monitor) threshold() float64 {
	if m.ThresholdMeters > 0 {
		return m.ThresholdMeters
	}
	return 200
}

func (m *Monitor) cooldown() time.Duration {
	if m.Cooldown > 0 {
		return m.Cooldown
	}
	return 5 * time.Minute
}

func (m *Monitor) arrivalRadius() float64 {
	if m.ArrivalRadiusM > 0 {
		return m.ArrivalRadiusM
	}
	return 50
}

func (m *Monitor) historyCap() int {
	if m.HistoryCap > 0 {
		return m.HistoryCap
	}
	return 20
}
