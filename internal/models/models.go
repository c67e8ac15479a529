package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanPremium PlanTier = "premium"
)

// Contact is a member of the user's trusted circle.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Responder is an emergency responder assigned to a geofence zone.
type Responder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Agency string `json:"agency,omitempty"`
}

// GeofenceZone is a read-only polygon snapshot fetched from the backend.
// Ring follows GeoJSON winding; vertices are never mutated locally.
type GeofenceZone struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Ring      []Coord    `json:"ring"`
	Active    bool       `json:"active"`
	Responder *Responder `json:"responder,omitempty"`
}

type DispatchOutcome struct {
	CallInitiated bool              `json:"call_initiated"`
	SMSInitiated  bool              `json:"sms_initiated"`
	LiveShareURL  string            `json:"live_share_url,omitempty"`
	Session       *LiveShareSession `json:"session,omitempty"`
}

// EndReason explains why a live-share session terminated.
type EndReason string

const (
	EndReasonUser     EndReason = "user"
	EndReasonExpired  EndReason = "expired"
	EndReasonBackend  EndReason = "backend"
	EndReasonError    EndReason = "error"
	EndReasonReplaced EndReason = "replaced"
)

// LiveShareSession is the single process-wide live location share.
// Local sessions carry only a static map link and have no backend tracking.
type LiveShareSession struct {
	ID        string    `json:"id"`
	Token     string    `json:"token,omitempty"`
	URL       string    `json:"url"`
	StreamURL string    `json:"stream_url,omitempty"`
	Plan      PlanTier  `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
	Local     bool      `json:"local"`
}

// PendingSOSMessage is an SOS text that could not be sent for lack of
// connectivity, retained durably until a flush succeeds.
type PendingSOSMessage struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
	Attempts   int       `json:"attempts"`
}

type RouteTrackingSession struct {
	Start             Coord     `json:"start"`
	Destination       Coord     `json:"destination"`
	StartedAt         time.Time `json:"started_at"`
	Path              []Coord   `json:"path"`
	DistanceTraveled  float64   `json:"distance_traveled_m"`
	RemainingDistance float64   `json:"remaining_distance_m"`
	ETASeconds        float64   `json:"eta_seconds"`
}

type DeviationAlert struct {
	DistanceMeters float64   `json:"distance_m"`
	At             time.Time `json:"at"`
	Escalated      bool      `json:"escalated"`
}

// CheckInFrequencies is the fixed set of allowed recurrence intervals in minutes.
var CheckInFrequencies = []int{30, 60, 120, 180, 360, 720, 1440}

// CheckIn is a recurring "prove you're safe" prompt. AwaitingResponse and
// NextTriggerAt are mutually exclusive drivers: while a check-in awaits
// confirmation the scheduler must not re-trigger it.
type CheckIn struct {
	ID               string     `json:"id"`
	Label            string     `json:"label"`
	RecipientIDs     []string   `json:"recipient_ids"`
	FrequencyMinutes int        `json:"frequency_minutes"`
	NextTriggerAt    time.Time  `json:"next_trigger_at"`
	AwaitingResponse bool       `json:"awaiting_response"`
	LastReminderAt   *time.Time `json:"last_reminder_at,omitempty"`
	ReminderAttempts int        `json:"reminder_attempts"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty"`
	Enabled          bool       `json:"enabled"`
}

// ShareEventKind discriminates live-share telemetry records.
type ShareEventKind string

const (
	ShareEventPosition ShareEventKind = "position"
	ShareEventEnded    ShareEventKind = "ended"
)

// ShareEvent is the telemetry record published for a live share: periodic
// positions while the session runs, then a final ended marker so downstream
// views can drop the session instead of serving a stale last position.
type ShareEvent struct {
	Kind      ShareEventKind `json:"kind"`
	SessionID string         `json:"session_id"`
	Loc       Coord          `json:"loc"`
	At        time.Time      `json:"at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Reason    EndReason      `json:"reason,omitempty"`
}
