// Package liveshare owns the single process-wide live location share
// session: backend creation, the periodic position push loop, and
// termination bookkeeping.
package liveshare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/safety-core/internal/backend"
	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/observability"
	"github.com/example/safety-core/internal/storage"
)

const endReasonHistoryKey = "liveshare:end_reasons"
const endReasonHistoryCap = 20

// Backend is the subset of the REST client the manager needs.
type Backend interface {
	StartLiveShare(ctx context.Context, userID string, minutes int) (*backend.LiveShareDescriptor, error)
	PushPosition(ctx context.Context, sessionID string, loc models.Coord) error
	StopLiveShare(ctx context.Context, sessionID string) error
}

// TelemetryPublisher fans share events out to the share-link viewer
// pipeline. Publishing is best-effort.
type TelemetryPublisher interface {
	Publish(e models.ShareEvent) error
}

// Manager enforces the at-most-one-active-session invariant. Starting a new
// session while one is active stops and replaces the existing one. The push
// loop is owned by the manager, not the caller's context, so it survives
// screen unmounts.
type Manager struct {
	Backend   Backend
	Location  native.LocationProvider
	Telemetry TelemetryPublisher // optional
	Store     storage.KVStore    // optional termination-reason history
	Logger    *slog.Logger
	OnEnded   func(reason models.EndReason)

	ShareBaseURL     string
	StaticMapBaseURL string
	FreeShareMinutes int
	PushInterval     time.Duration

	mu     sync.Mutex
	active *models.LiveShareSession
	cancel context.CancelFunc
}

// Start creates a backend-tracked session. The free tier is clamped to
// FreeShareMinutes regardless of the requested duration; premium sessions
// honor the request (zero means until stopped). On backend failure the
// caller may degrade to StartLocalFallback.
func (m *Manager) Start(ctx context.Context, userID string, plan models.PlanTier, requestedMinutes int) (*models.LiveShareSession, error) {
	// free tier is clamped to the short fixed duration regardless of request
	minutes := requestedMinutes
	if plan != models.PlanPremium {
		minutes = m.freeMinutes()
	}

	desc, err := m.Backend.StartLiveShare(ctx, userID, minutes)
	if err != nil {
		return nil, fmt.Errorf("start live share: %w", err)
	}
	return m.Adopt(desc, plan), nil
}

// Adopt installs a session from a backend-issued descriptor (for instance
// one returned by incident submission) and begins the push loop.
func (m *Manager) Adopt(desc *backend.LiveShareDescriptor, plan models.PlanTier) *models.LiveShareSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.stopLocked(models.EndReasonReplaced)
	}

	url := m.StaticMapBaseURL
	if desc.Token != "" {
		url = m.ShareBaseURL + "/" + desc.Token
	}
	sess := &models.LiveShareSession{
		ID:        desc.SessionID,
		Token:     desc.Token,
		URL:       url,
		StreamURL: desc.StreamURL,
		Plan:      plan,
		ExpiresAt: desc.ExpiresAt,
	}
	m.active = sess

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.pushLoop(loopCtx, *sess)

	observability.LiveShareActive.Set(1)
	cp := *sess
	return &cp
}

// StartLocalFallback installs a degraded session carrying only a static map
// link. There is no backend tracking and no push loop; the link is the whole
// feature.
func (m *Manager) StartLocalFallback(coord *models.Coord, plan models.PlanTier) *models.LiveShareSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.stopLocked(models.EndReasonReplaced)
	}
	sess := &models.LiveShareSession{
		ID:        uuid.NewString(),
		URL:       m.staticMapLink(coord),
		Plan:      plan,
		ExpiresAt: time.Now().Add(time.Duration(m.freeMinutes()) * time.Minute),
		Local:     true,
	}
	m.active = sess
	observability.LiveShareActive.Set(1)
	cp := *sess
	return &cp
}

// Active returns a copy of the current session, or nil.
func (m *Manager) Active() *models.LiveShareSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	cp := *m.active
	return &cp
}

// Stop terminates the active session with reason user.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(models.EndReasonUser)
}

func (m *Manager) stopLocked(reason models.EndReason) {
	if m.active == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	sess := m.active
	m.active = nil
	observability.LiveShareActive.Set(0)

	m.recordEndReason(reason)
	m.logger().Info("live share ended", "session", sess.ID, "reason", string(reason))

	if !sess.Local && m.Backend != nil {
		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := m.Backend.StopLiveShare(ctx, id); err != nil {
				m.logger().Warn("backend stop failed", "session", id, "error", err)
			}
		}(sess.ID)
	}
	if !sess.Local && m.Telemetry != nil {
		ended := models.ShareEvent{Kind: models.ShareEventEnded, SessionID: sess.ID, At: time.Now().UTC(), Reason: reason}
		go func() {
			if err := m.Telemetry.Publish(ended); err != nil {
				m.logger().Warn("telemetry end publish failed", "error", err)
			}
		}()
	}
	if m.OnEnded != nil {
		go m.OnEnded(reason)
	}
}

// endIf stops the session only if it is still the one the loop was pushing
// for, so a replaced session's dying loop cannot kill its successor.
func (m *Manager) endIf(sessionID string, reason models.EndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.ID == sessionID {
		m.stopLocked(reason)
	}
}

func (m *Manager) pushLoop(ctx context.Context, sess models.LiveShareSession) {
	interval := m.PushInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var expiryC <-chan time.Time
	if !sess.ExpiresAt.IsZero() {
		expiry := time.NewTimer(time.Until(sess.ExpiresAt))
		defer expiry.Stop()
		expiryC = expiry.C
	}

	var conn *websocket.Conn
	if sess.StreamURL != "" {
		if c, _, err := websocket.DefaultDialer.DialContext(ctx, sess.StreamURL, nil); err == nil {
			conn = c
		} else {
			m.logger().Warn("stream dial failed, using rest pushes", "error", err)
		}
	}
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-expiryC:
			m.endIf(sess.ID, models.EndReasonExpired)
			return
		case <-ticker.C:
			switch err := m.pushOnce(ctx, &conn, sess); {
			case err == nil:
				failures = 0
			case errors.Is(err, backend.ErrUnavailable), errors.Is(err, native.ErrLocationUnavailable):
				failures++
				if failures >= 5 {
					m.endIf(sess.ID, models.EndReasonError)
					return
				}
			default:
				// backend rejected the session; it was terminated server-side
				m.endIf(sess.ID, models.EndReasonBackend)
				return
			}
		}
	}
}

func (m *Manager) pushOnce(ctx context.Context, conn **websocket.Conn, sess models.LiveShareSession) error {
	fixCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	loc, err := m.Location.Current(fixCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", native.ErrLocationUnavailable, err)
	}

	update := models.ShareEvent{
		Kind:      models.ShareEventPosition,
		SessionID: sess.ID,
		Loc:       loc,
		At:        time.Now().UTC(),
		ExpiresAt: sess.ExpiresAt,
	}
	if m.Telemetry != nil {
		if err := m.Telemetry.Publish(update); err != nil {
			m.logger().Warn("telemetry publish failed", "error", err)
		}
	}

	if *conn != nil {
		if err := (*conn).WriteJSON(update); err == nil {
			observability.LiveSharePushes.WithLabelValues("ws", "ok").Inc()
			return nil
		}
		// stream broken; fall back to REST for the rest of the session
		_ = (*conn).Close()
		*conn = nil
		observability.LiveSharePushes.WithLabelValues("ws", "error").Inc()
	}

	pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Backend.PushPosition(pushCtx, sess.ID, loc); err != nil {
		observability.LiveSharePushes.WithLabelValues("rest", "error").Inc()
		return err
	}
	observability.LiveSharePushes.WithLabelValues("rest", "ok").Inc()
	return nil
}

func (m *Manager) recordEndReason(reason models.EndReason) {
	if m.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type entry struct {
		Reason models.EndReason `json:"reason"`
		At     time.Time        `json:"at"`
	}
	var history []entry
	if b, ok, err := m.Store.Get(ctx, endReasonHistoryKey); err == nil && ok {
		_ = json.Unmarshal(b, &history)
	}
	history = append(history, entry{Reason: reason, At: time.Now().UTC()})
	if len(history) > endReasonHistoryCap {
		history = history[len(history)-endReasonHistoryCap:]
	}
	if b, err := json.Marshal(history); err == nil {
		if err := m.Store.Set(ctx, endReasonHistoryKey, b); err != nil {
			m.logger().Warn("end reason persist failed", "error", err)
		}
	}
}

func (m *Manager) staticMapLink(coord *models.Coord) string {
	if coord == nil {
		return m.StaticMapBaseURL
	}
	return fmt.Sprintf("%s?lat=%.6f&lon=%.6f", m.StaticMapBaseURL, coord.Lat, coord.Lon)
}

func (m *Manager) freeMinutes() int {
	if m.FreeShareMinutes > 0 {
		return m.FreeShareMinutes
	}
	return 15
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
