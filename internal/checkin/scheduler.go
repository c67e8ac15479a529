// Package checkin runs recurring "prove you're safe" prompts. A missed
// check-in notifies the trusted circle directly; that message is the
// escalation, not a precursor to one.
package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/example/safety-core/internal/models"
	"github.com/example/safety-core/internal/observability"
	"github.com/example/safety-core/internal/storage"
)

const stateKey = "checkin:items"

// Messenger delivers the circle notification.
type Messenger interface {
	SendSMS(ctx context.Context, recipients []string, body string) bool
}

// Contacts resolves recipient contact ids to phone numbers.
type Contacts interface {
	ByID(id string) (models.Contact, bool)
}

var (
	ErrUnknownCheckIn   = fmt.Errorf("unknown check-in")
	ErrInvalidFrequency = fmt.Errorf("frequency not in the allowed set")
	ErrNoRecipients     = fmt.Errorf("check-in needs at least one recipient")
)

// Scheduler polls all enabled check-ins on a fixed interval. A check-in is
// due when now >= NextTriggerAt and it is not already awaiting a response;
// the awaiting flag and the trigger time are mutually exclusive drivers, so
// a due item is never re-triggered before confirmation or snooze.
type Scheduler struct {
	Store     storage.KVStore
	Messenger Messenger
	Contacts  Contacts
	Logger    *slog.Logger
	UserName  string

	PollSpec string // cron spec, default "@every 1m"

	mu    sync.Mutex
	items map[string]*models.CheckIn
	cron  *cron.Cron
}

// NewScheduler loads persisted check-in state from the store.
func NewScheduler(store storage.KVStore, messenger Messenger, contacts Contacts, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		Store:     store,
		Messenger: messenger,
		Contacts:  contacts,
		Logger:    logger,
		items:     make(map[string]*models.CheckIn),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, ok, err := store.Get(ctx, stateKey)
	if err != nil {
		return nil, fmt.Errorf("load check-ins: %w", err)
	}
	if ok {
		var list []*models.CheckIn
		if err := json.Unmarshal(b, &list); err != nil {
			s.logger().Warn("discarding corrupt check-in state", "error", err)
		} else {
			for _, c := range list {
				s.items[c.ID] = c
			}
		}
	}
	return s, nil
}

// Start begins the background poll. Stop cancels it.
func (s *Scheduler) Start() error {
	spec := s.PollSpec
	if spec == "" {
		spec = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, s.Poll); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.Start()
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// Create registers a new check-in. The first trigger is one full interval
// from now.
func (s *Scheduler) Create(label string, recipientIDs []string, frequencyMinutes int) (models.CheckIn, error) {
	if !validFrequency(frequencyMinutes) {
		return models.CheckIn{}, ErrInvalidFrequency
	}
	if len(recipientIDs) == 0 {
		return models.CheckIn{}, ErrNoRecipients
	}
	item := &models.CheckIn{
		ID:               uuid.NewString(),
		Label:            label,
		RecipientIDs:     append([]string(nil), recipientIDs...),
		FrequencyMinutes: frequencyMinutes,
		NextTriggerAt:    time.Now().Add(time.Duration(frequencyMinutes) * time.Minute),
		Enabled:          true,
	}
	s.mu.Lock()
	s.items[item.ID] = item
	err := s.persistLocked()
	cp := *item
	s.mu.Unlock()
	return cp, err
}

// Poll evaluates every enabled check-in once. Items already awaiting a
// response are explicitly excluded from the due-check.
func (s *Scheduler) Poll() {
	now := time.Now()

	s.mu.Lock()
	type reminder struct {
		label      string
		recipients []string
	}
	var due []reminder
	for _, item := range s.items {
		if !item.Enabled || item.AwaitingResponse || item.NextTriggerAt.After(now) {
			continue
		}
		item.AwaitingResponse = true
		at := now
		item.LastReminderAt = &at
		item.ReminderAttempts++
		due = append(due, reminder{label: item.Label, recipients: s.resolveRecipientsLocked(item)})
	}
	if len(due) > 0 {
		if err := s.persistLocked(); err != nil {
			s.logger().Warn("check-in persist failed", "error", err)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		if len(r.recipients) == 0 {
			s.logger().Warn("due check-in has no resolvable recipients", "label", r.label)
			continue
		}
		body := s.reminderBody(r.label)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if !s.Messenger.SendSMS(ctx, r.recipients, body) {
			s.logger().Warn("check-in circle notification failed", "label", r.label)
		}
		cancel()
		observability.CheckInRemindersTotal.Inc()
	}
}

// MarkCompleted records a user confirmation: the awaiting flag clears,
// attempts reset, and the next trigger moves one full interval out.
func (s *Scheduler) MarkCompleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrUnknownCheckIn
	}
	now := time.Now()
	item.AwaitingResponse = false
	item.ReminderAttempts = 0
	item.LastCompletedAt = &now
	item.NextTriggerAt = now.Add(time.Duration(item.FrequencyMinutes) * time.Minute)
	return s.persistLocked()
}

// Snooze pushes the next trigger out without counting as a completion.
func (s *Scheduler) Snooze(id string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("snooze minutes must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrUnknownCheckIn
	}
	item.AwaitingResponse = false
	item.NextTriggerAt = time.Now().Add(time.Duration(minutes) * time.Minute)
	return s.persistLocked()
}

func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrUnknownCheckIn
	}
	item.Enabled = enabled
	return s.persistLocked()
}

func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrUnknownCheckIn
	}
	delete(s.items, id)
	return s.persistLocked()
}

// List returns copies of all check-ins, stable by label then id.
func (s *Scheduler) List() []models.CheckIn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CheckIn, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a copy of one check-in.
func (s *Scheduler) Get(id string) (models.CheckIn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return models.CheckIn{}, false
	}
	return *item, true
}

func (s *Scheduler) resolveRecipientsLocked(item *models.CheckIn) []string {
	var out []string
	for _, id := range item.RecipientIDs {
		if s.Contacts == nil {
			break
		}
		if c, ok := s.Contacts.ByID(id); ok && c.Phone != "" {
			out = append(out, c.Phone)
		}
	}
	return out
}

func (s *Scheduler) reminderBody(label string) string {
	name := s.UserName
	if name == "" {
		name = "Your contact"
	}
	return fmt.Sprintf("%s has not confirmed their %q safety check-in. Please reach out to make sure they're okay.", name, label)
}

func (s *Scheduler) persistLocked() error {
	list := make([]*models.CheckIn, 0, len(s.items))
	for _, item := range s.items {
		list = append(list, item)
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Store.Set(ctx, stateKey, b)
}

func validFrequency(minutes int) bool {
	for _, f := range models.CheckInFrequencies {
		if f == minutes {
			return true
		}
	}
	return false
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
