package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/safety-core/internal/models"
)

// ErrUnavailable covers transport failures, timeouts, and 5xx responses.
// Callers treat it like a connectivity loss: queue, degrade, or skip.
var ErrUnavailable = errors.New("backend unavailable")

// Client talks to the safety backend REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// IncidentReport is the submit-incident payload.
type IncidentReport struct {
	UserID string        `json:"user_id"`
	Coord  *models.Coord `json:"coord,omitempty"`
	Notes  string        `json:"notes"`
}

// LiveShareDescriptor is the backend's handle for a live share session.
type LiveShareDescriptor struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	StreamURL string    `json:"stream_url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubmitIncident reports an SOS. The descriptor is nil when the backend did
// not open a live share for the incident.
func (c *Client) SubmitIncident(ctx context.Context, rep IncidentReport) (*LiveShareDescriptor, error) {
	var out struct {
		IncidentID string               `json:"incident_id"`
		LiveShare  *LiveShareDescriptor `json:"live_share"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/incidents", rep, &out); err != nil {
		return nil, err
	}
	return out.LiveShare, nil
}

// StartLiveShare asks the backend to open a tracked session.
func (c *Client) StartLiveShare(ctx context.Context, userID string, minutes int) (*LiveShareDescriptor, error) {
	req := map[string]any{"user_id": userID, "duration_minutes": minutes}
	var out LiveShareDescriptor
	if err := c.doJSON(ctx, http.MethodPost, "/v1/live-share", req, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("live share response missing session id")
	}
	return &out, nil
}

// PushPosition appends a position to an active session over REST.
func (c *Client) PushPosition(ctx context.Context, sessionID string, loc models.Coord) error {
	path := "/v1/live-share/" + url.PathEscape(sessionID) + "/positions"
	body := map[string]any{"lat": loc.Lat, "lon": loc.Lon, "at": time.Now().UTC()}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// StopLiveShare tells the backend the session ended client-side.
func (c *Client) StopLiveShare(ctx context.Context, sessionID string) error {
	path := "/v1/live-share/" + url.PathEscape(sessionID) + "/stop"
	return c.doJSON(ctx, http.MethodPost, path, struct{}{}, nil)
}

// Geofences fetches the zone snapshot. Rings arrive as GeoJSON-style
// [lon, lat] pairs and are converted to coords here.
func (c *Client) Geofences(ctx context.Context) ([]models.GeofenceZone, error) {
	var out struct {
		Zones []struct {
			ID        string            `json:"id"`
			Name      string            `json:"name"`
			Active    bool              `json:"active"`
			Ring      [][2]float64      `json:"ring"`
			Responder *models.Responder `json:"responder"`
		} `json:"zones"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/geofences", nil, &out); err != nil {
		return nil, err
	}
	zones := make([]models.GeofenceZone, 0, len(out.Zones))
	for _, z := range out.Zones {
		ring := make([]models.Coord, 0, len(z.Ring))
		for _, v := range z.Ring {
			ring = append(ring, models.Coord{Lon: v[0], Lat: v[1]})
		}
		zones = append(zones, models.GeofenceZone{ID: z.ID, Name: z.Name, Active: z.Active, Ring: ring, Responder: z.Responder})
	}
	return zones, nil
}

// AssignedResponder looks up the responder covering a coordinate. A nil
// responder with nil error means nobody covers the point.
func (c *Client) AssignedResponder(ctx context.Context, loc models.Coord) (*models.Responder, error) {
	path := fmt.Sprintf("/v1/responders/assigned?lat=%.6f&lon=%.6f", loc.Lat, loc.Lon)
	var out struct {
		Responder *models.Responder `json:"responder"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Responder, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend rejected %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
