package core

import (
	"context"
	"testing"
	"time"

	"github.com/example/safety-core/internal/config"
	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/storage"
)

type stubLocation struct{ c models.Coord }

func (s *stubLocation) Current(context.Context) (models.Coord, error) { return s.c, nil }
func (s *stubLocation) Watch(ctx context.Context) (<-chan models.Coord, error) {
	ch := make(chan models.Coord)
	go func() { <-ctx.Done(); close(ch) }()
	return ch, nil
}

type stubCircle []models.Contact

func (s stubCircle) TrustedCircle() []models.Contact { return s }

type stubBook map[string]models.Contact

func (b stubBook) ByID(id string) (models.Contact, bool) {
	c, ok := b[id]
	return c, ok
}

type stubLauncher struct{ dialed []string }

func (l *stubLauncher) OpenDialer(number string) error { l.dialed = append(l.dialed, number); return nil }
func (l *stubLauncher) OpenSMSComposer([]string, string) error { return nil }

func testConfig() config.CoreConfig {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		panic(err)
	}
	cfg.CheckInPoll = time.Minute
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	col := Collaborators{
		Launcher:     &stubLauncher{},
		Location:     &stubLocation{c: models.Coord{Lat: 1, Lon: 2}},
		Circle:       stubCircle{{ID: "c1", Name: "Asha", Phone: "+100"}},
		ContactsByID: stubBook{},
		Store:        storage.NewMemoryKV(),
		UserName:     "Riya",
	}
	c, err := New(testConfig(), "u1", models.PlanFree, col)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	if c.Orchestrator == nil || c.Queue == nil || c.Live == nil || c.RouteMonitor == nil || c.CheckIns == nil {
		t.Fatal("core has unwired components")
	}
	if c.CheckIns.UserName != "Riya" {
		t.Fatalf("check-in user name not threaded: %q", c.CheckIns.UserName)
	}
}

func TestStartStop(t *testing.T) {
	col := Collaborators{
		Launcher:     &stubLauncher{},
		Location:     &stubLocation{},
		Circle:       stubCircle{},
		ContactsByID: stubBook{},
		Store:        storage.NewMemoryKV(),
	}
	c, err := New(testConfig(), "u1", models.PlanFree, col)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop()
}

func TestMemoryStoreFallbackWhenUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = ""
	col := Collaborators{
		Launcher:     &stubLauncher{},
		Location:     &stubLocation{},
		Circle:       stubCircle{},
		ContactsByID: stubBook{},
	}
	c, err := New(cfg, "u1", models.PlanPremium, col)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	// the queue must be usable without any external store
	if err := c.Queue.Enqueue(context.Background(), "hello", []string{"+100"}); err != nil {
		t.Fatalf("enqueue on fallback store: %v", err)
	}
}
