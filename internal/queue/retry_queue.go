// Package queue keeps SOS messages that could not be sent for lack of
// connectivity and retries them when the network comes back.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/observability"
	"github.com/example/safety-core/internal/storage"
)

const pendingKey = "queue:pending_sos"

// SMSSender is the messaging path used during a flush.
type SMSSender interface {
	SendSMS(ctx context.Context, recipients []string, body string) bool
}

// Queue is a durable FIFO of failed SOS messages capped at Cap entries,
// oldest dropped first. A flush triggered while another is in progress is
// skipped so no entry is ever sent twice.
type Queue struct {
	Cap      int
	Store    storage.KVStore
	Sender   SMSSender
	Notifier native.Notifier // optional "saved for later" notice
	Logger   *slog.Logger

	mu       sync.Mutex
	flushing bool
	pending  []models.PendingSOSMessage
}

// New loads any persisted pending messages from the store.
func New(store storage.KVStore, sender SMSSender, cap int, logger *slog.Logger) (*Queue, error) {
	q := &Queue{Cap: cap, Store: store, Sender: sender, Logger: logger}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, ok, err := store.Get(ctx, pendingKey)
	if err != nil {
		return nil, fmt.Errorf("load pending queue: %w", err)
	}
	if ok {
		if err := json.Unmarshal(b, &q.pending); err != nil {
			q.logger().Warn("discarding corrupt pending queue", "error", err)
			q.pending = nil
		}
	}
	observability.QueueDepth.Set(float64(len(q.pending)))
	return q, nil
}

// Enqueue appends a pending message, trims to the cap, and persists. The
// user gets a non-blocking "saved for later" notice.
func (q *Queue) Enqueue(ctx context.Context, body string, recipients []string) error {
	q.mu.Lock()
	q.pending = append(q.pending, models.PendingSOSMessage{
		ID:         uuid.NewString(),
		Body:       body,
		Recipients: append([]string(nil), recipients...),
		CreatedAt:  time.Now().UTC(),
	})
	if q.Cap > 0 && len(q.pending) > q.Cap {
		q.pending = q.pending[len(q.pending)-q.Cap:]
	}
	err := q.persistLocked(ctx)
	depth := len(q.pending)
	q.mu.Unlock()

	observability.QueueDepth.Set(float64(depth))
	if q.Notifier != nil {
		if nerr := q.Notifier.Notify("SOS saved", "No connection right now. Your alert will be sent as soon as you're back online."); nerr != nil {
			q.logger().Warn("queue notice failed", "error", nerr)
		}
	}
	return err
}

// Pending returns a snapshot of the queued messages, oldest first.
func (q *Queue) Pending() []models.PendingSOSMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.PendingSOSMessage, len(q.pending))
	copy(out, q.pending)
	return out
}

// FlushPending attempts to send every queued message. Sent entries are
// removed; failed ones are retained with an incremented attempt count. A
// concurrent flush is skipped entirely.
func (q *Queue) FlushPending(ctx context.Context) (sent, remaining int) {
	q.mu.Lock()
	if q.flushing {
		remaining = len(q.pending)
		q.mu.Unlock()
		return 0, remaining
	}
	q.flushing = true
	snapshot := make([]models.PendingSOSMessage, len(q.pending))
	copy(snapshot, q.pending)
	q.mu.Unlock()

	sentIDs := make(map[string]bool, len(snapshot))
	for _, msg := range snapshot {
		if q.Sender.SendSMS(ctx, msg.Recipients, msg.Body) {
			sentIDs[msg.ID] = true
			observability.QueueFlushedTotal.WithLabelValues("sent").Inc()
		} else {
			observability.QueueFlushedTotal.WithLabelValues("retained").Inc()
		}
	}

	q.mu.Lock()
	kept := q.pending[:0]
	for _, msg := range q.pending {
		if sentIDs[msg.ID] {
			continue
		}
		// only entries this flush actually attempted count an attempt
		if attempted(snapshot, msg.ID) {
			msg.Attempts++
		}
		kept = append(kept, msg)
	}
	q.pending = kept
	if err := q.persistLocked(ctx); err != nil {
		q.logger().Warn("queue persist failed after flush", "error", err)
	}
	remaining = len(q.pending)
	q.flushing = false
	q.mu.Unlock()

	observability.QueueDepth.Set(float64(remaining))
	sent = len(sentIDs)
	if sent > 0 {
		q.logger().Info("offline queue flushed", "sent", sent, "remaining", remaining)
	}
	return sent, remaining
}

// BindConnectivity flushes on every unreachable-to-reachable transition.
// The goroutine exits when ctx is done.
func (q *Queue) BindConnectivity(ctx context.Context, w native.ConnectivityWatcher) {
	go func() {
		wasOnline := w.Online()
		for {
			select {
			case <-ctx.Done():
				return
			case online, ok := <-w.Changes():
				if !ok {
					return
				}
				if online && !wasOnline {
					q.FlushPending(ctx)
				}
				wasOnline = online
			}
		}
	}()
}

// OnForeground flushes when the app returns to the foreground with pending
// items.
func (q *Queue) OnForeground(ctx context.Context) {
	q.mu.Lock()
	hasPending := len(q.pending) > 0
	q.mu.Unlock()
	if hasPending {
		q.FlushPending(ctx)
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	b, err := json.Marshal(q.pending)
	if err != nil {
		return err
	}
	return q.Store.Set(ctx, pendingKey, b)
}

func attempted(snapshot []models.PendingSOSMessage, id string) bool {
	for _, m := range snapshot {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (q *Queue) logger() *slog.Logger {
	if q.Logger != nil {
		return q.Logger
	}
	return slog.Default()
}
