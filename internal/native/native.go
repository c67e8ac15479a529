// Package native declares the narrow interfaces through which the
// orchestration core reaches device capabilities. The application binds real
// platform implementations at startup; tests bind fakes. Nothing in this
// module implements a capability itself.
package native

import (
	"context"
	"errors"

	"github.com/example/safety-core/internal/models"
)

var (
	// ErrPermissionDenied means the user declined a runtime permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCapabilityMissing means the platform has no such capability at all.
	ErrCapabilityMissing = errors.New("capability missing")
	// ErrLocationUnavailable means no fix could be acquired in time.
	ErrLocationUnavailable = errors.New("location unavailable")
)

type Permission string

const (
	PermissionCall          Permission = "call"
	PermissionSMS           Permission = "sms"
	PermissionLocation      Permission = "location"
	PermissionNotifications Permission = "notifications"
)

// Permissions prompts for runtime permissions. Request returns
// ErrPermissionDenied when the user declines.
type Permissions interface {
	Request(ctx context.Context, p Permission) error
}

// CallCapability places a call directly without leaving the app.
type CallCapability interface {
	Place(ctx context.Context, number string) error
}

// SMSCapability sends a text silently without opening a composer.
type SMSCapability interface {
	Send(ctx context.Context, phone, body string) error
}

// Launcher invokes OS-level fallbacks via URL schemes. Opening a composer
// reports success once the app is launched; delivery is not confirmed.
type Launcher interface {
	OpenDialer(number string) error
	OpenSMSComposer(recipients []string, body string) error
}

// LocationProvider acquires fixes and position streams. Current honors the
// context deadline; Watch delivers updates until ctx is done, then closes
// the channel.
type LocationProvider interface {
	Current(ctx context.Context) (models.Coord, error)
	Watch(ctx context.Context) (<-chan models.Coord, error)
}

// Notifier presents a local push notification.
type Notifier interface {
	Notify(title, body string) error
}

// ConnectivityWatcher reports network reachability. Changes emits the new
// reachability state on every transition.
type ConnectivityWatcher interface {
	Online() bool
	Changes() <-chan bool
}
