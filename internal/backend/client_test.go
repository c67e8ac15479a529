package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/safety-core/internal/models"
)

func TestSubmitIncidentReturnsDescriptor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/incidents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"incident_id":"i1","live_share":{"session_id":"s1","token":"tok","expires_at":"2026-01-01T00:00:00Z"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	desc, err := c.SubmitIncident(context.Background(), IncidentReport{UserID: "u1", Notes: "help"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if desc == nil || desc.SessionID != "s1" || desc.Token != "tok" {
		t.Fatalf("bad descriptor: %+v", desc)
	}
}

func TestSubmitIncidentNoLiveShare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"incident_id":"i1"}`))
	}))
	defer srv.Close()

	desc, err := NewClient(srv.URL, time.Second).SubmitIncident(context.Background(), IncidentReport{UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected nil descriptor, got %+v", desc)
	}
}

func TestServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 503)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).StartLiveShare(context.Background(), "u1", 15)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNetworkErrorMapsToUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Geofences(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGeofencesDecodesRings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"zones":[{"id":"z1","name":"downtown","active":true,
			"ring":[[36.80,-1.30],[36.82,-1.30],[36.82,-1.28],[36.80,-1.28]],
			"responder":{"id":"r1","name":"Unit 7","phone":"+254700000001"}}]}`))
	}))
	defer srv.Close()

	zones, err := NewClient(srv.URL, time.Second).Geofences(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(zones))
	}
	z := zones[0]
	if len(z.Ring) != 4 {
		t.Fatalf("expected 4 vertices, got %d", len(z.Ring))
	}
	// [lon, lat] order on the wire
	if z.Ring[0] != (models.Coord{Lat: -1.30, Lon: 36.80}) {
		t.Fatalf("ring order wrong: %+v", z.Ring[0])
	}
	if z.Responder == nil || z.Responder.Phone != "+254700000001" {
		t.Fatalf("responder missing: %+v", z.Responder)
	}
}
