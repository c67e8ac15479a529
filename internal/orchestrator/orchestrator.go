// Package orchestrator coordinates an SOS trigger end to end: location fix,
// responder resolution, the synchronous call phase, and the background
// message phase that keeps working after the caller has moved on.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/safety-core/internal/backend"
	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/observability"
	"github.com/example/safety-core/internal/storage"
)

// CallSMS is the outbound channel surface.
type CallSMS interface {
	PlaceCall(ctx context.Context, number string) error
	SendSMS(ctx context.Context, recipients []string, body string) bool
}

// Locator resolves the geofence zone and responder covering a coordinate.
type Locator interface {
	Locate(ctx context.Context, p models.Coord) (*models.GeofenceZone, *models.Responder, error)
}

// LiveShare is the session-manager surface the background phase drives.
type LiveShare interface {
	Adopt(desc *backend.LiveShareDescriptor, plan models.PlanTier) *models.LiveShareSession
	StartLocalFallback(coord *models.Coord, plan models.PlanTier) *models.LiveShareSession
	Active() *models.LiveShareSession
}

// IncidentSink submits the incident report to the backend.
type IncidentSink interface {
	SubmitIncident(ctx context.Context, rep backend.IncidentReport) (*backend.LiveShareDescriptor, error)
}

// Enqueuer stores a message that could not be sent offline.
type Enqueuer interface {
	Enqueue(ctx context.Context, body string, recipients []string) error
}

// ContactSource provides the current trusted circle snapshot.
type ContactSource interface {
	TrustedCircle() []models.Contact
}

type Orchestrator struct {
	UserID string
	Plan   models.PlanTier

	Hotline      string
	Contacts     ContactSource
	Location     native.LocationProvider
	Zones        Locator
	Channels     CallSMS
	Live         LiveShare
	Incidents    IncidentSink
	Queue        Enqueuer
	Notifier     native.Notifier
	Connectivity native.ConnectivityWatcher
	Audit        storage.AuditLog // optional
	Logger       *slog.Logger

	LocationTimeout   time.Duration
	BackgroundTimeout time.Duration

	bg sync.WaitGroup
}

// Dispatch runs the synchronous phases of an SOS and spawns the message
// phase in the background. It returns promptly after the call phase; the
// background work is owned by the orchestrator and is never torn down with
// the triggering screen. Repeated triggers are independent incidents.
func (o *Orchestrator) Dispatch(ctx context.Context, message string) models.DispatchOutcome {
	started := time.Now()
	observability.DispatchesTotal.Inc()

	coord := o.acquireLocation(ctx)

	var zone *models.GeofenceZone
	var responder *models.Responder
	if coord != nil {
		z, r, err := o.Zones.Locate(ctx, *coord)
		if err != nil {
			// degrade to trusted-circle-only routing
			o.logger().Warn("geofence lookup failed", "error", err)
		} else {
			zone, responder = z, r
		}
	}

	out := models.DispatchOutcome{}
	out.CallInitiated = o.callPhase(ctx, responder)

	// a session already running (e.g. route tracking started one) is reused
	if sess := o.Live.Active(); sess != nil {
		out.LiveShareURL = sess.URL
		out.Session = sess
	}
	// initiated, not delivered: the background phase owns the actual send
	out.SMSInitiated = true

	o.bg.Add(1)
	go o.messagePhase(message, coord, zone, responder, out.CallInitiated)

	observability.DispatchLatency.Observe(time.Since(started).Seconds())
	return out
}

// WaitBackground blocks until all spawned message phases finish. Tests and
// orderly shutdown use it; the UI path never does.
func (o *Orchestrator) WaitBackground() {
	o.bg.Wait()
}

func (o *Orchestrator) acquireLocation(ctx context.Context) *models.Coord {
	timeout := o.LocationTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	fixCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := o.Location.Current(fixCtx)
	if err != nil {
		o.logger().Warn("dispatching without location", "error", err)
		return nil
	}
	return &c
}

// callPhase places the highest-priority calls synchronously: the zone's
// responder when inside a geofence, otherwise the primary trusted contact;
// the emergency hotline is always called. Failures warn but never abort.
func (o *Orchestrator) callPhase(ctx context.Context, responder *models.Responder) bool {
	anyPlaced := false

	if responder != nil {
		anyPlaced = o.tryCall(ctx, responder.Phone, "responder") || anyPlaced
	} else if primary := o.primaryContact(); primary != nil {
		anyPlaced = o.tryCall(ctx, primary.Phone, "trusted contact") || anyPlaced
	}
	if o.Hotline != "" {
		anyPlaced = o.tryCall(ctx, o.Hotline, "hotline") || anyPlaced
	}
	return anyPlaced
}

func (o *Orchestrator) tryCall(ctx context.Context, number, who string) bool {
	if number == "" {
		return false
	}
	if err := o.Channels.PlaceCall(ctx, number); err != nil {
		o.logger().Warn("call attempt failed", "target", who, "error", err)
		o.notify("Call failed", "We couldn't start a call to your "+who+". Please dial manually.")
		return false
	}
	return true
}

// messagePhase is the fire-and-forget continuation: incident submission,
// live share, the location-link SMS, and the confirmation notification. It
// has its own error boundary; nothing here can take down the app.
func (o *Orchestrator) messagePhase(message string, coord *models.Coord, zone *models.GeofenceZone, responder *models.Responder, callInitiated bool) {
	defer o.bg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			o.logger().Error("sos background phase panicked", "panic", rec)
		}
	}()

	timeout := o.BackgroundTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	session := o.ensureLiveShare(ctx, message, coord)

	body := o.composeBody(message, coord, session)
	recipients := o.messageRecipients(zone, responder)

	smsOK := false
	if len(recipients) > 0 {
		smsOK = o.Channels.SendSMS(ctx, recipients, body)
		if !smsOK && !o.online() {
			if err := o.Queue.Enqueue(ctx, body, recipients); err != nil {
				o.logger().Error("offline enqueue failed", "error", err)
			}
		} else if !smsOK {
			o.notify("Message not sent", "We couldn't send your alert. Please message your contacts directly.")
		}
	}

	o.notify("SOS sent", "Your emergency contacts are being notified.")

	if o.Audit != nil {
		out := models.DispatchOutcome{CallInitiated: callInitiated, SMSInitiated: smsOK}
		if session != nil {
			out.LiveShareURL = session.URL
			out.Session = session
		}
		if err := o.Audit.SaveDispatch(o.UserID, message, out); err != nil {
			o.logger().Warn("dispatch audit failed", "error", err)
		}
	}
}

// ensureLiveShare submits the incident and adopts whatever live-share
// descriptor the backend offers; with no descriptor (or no backend) it
// degrades to a local static-link session.
func (o *Orchestrator) ensureLiveShare(ctx context.Context, message string, coord *models.Coord) *models.LiveShareSession {
	desc, err := o.Incidents.SubmitIncident(ctx, backend.IncidentReport{
		UserID: o.UserID,
		Coord:  coord,
		Notes:  message,
	})
	if err != nil {
		o.logger().Warn("incident submission failed", "error", err)
	}
	if desc != nil {
		return o.Live.Adopt(desc, o.Plan)
	}
	if sess := o.Live.Active(); sess != nil {
		return sess
	}
	return o.Live.StartLocalFallback(coord, o.Plan)
}

func (o *Orchestrator) composeBody(message string, coord *models.Coord, session *models.LiveShareSession) string {
	body := message
	if body == "" {
		body = "I need help. This is an emergency."
	}
	if session != nil && session.URL != "" {
		body = fmt.Sprintf("%s Track my location: %s", body, session.URL)
	} else if coord != nil {
		body = fmt.Sprintf("%s My last location: %.5f,%.5f", body, coord.Lat, coord.Lon)
	}
	return body
}

// messageRecipients routes to the zone's responder when inside a geofence,
// otherwise to the whole trusted circle.
func (o *Orchestrator) messageRecipients(zone *models.GeofenceZone, responder *models.Responder) []string {
	if zone != nil && responder != nil && responder.Phone != "" {
		return []string{responder.Phone}
	}
	var out []string
	if o.Contacts != nil {
		for _, c := range o.Contacts.TrustedCircle() {
			if c.Phone != "" {
				out = append(out, c.Phone)
			}
		}
	}
	return out
}

func (o *Orchestrator) primaryContact() *models.Contact {
	if o.Contacts == nil {
		return nil
	}
	circle := o.Contacts.TrustedCircle()
	if len(circle) == 0 {
		return nil
	}
	return &circle[0]
}

func (o *Orchestrator) online() bool {
	if o.Connectivity == nil {
		return true
	}
	return o.Connectivity.Online()
}

func (o *Orchestrator) notify(title, body string) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Notify(title, body); err != nil {
		o.logger().Warn("notification failed", "title", title, "error", err)
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
