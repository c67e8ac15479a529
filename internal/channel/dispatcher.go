// Package channel routes calls and texts through the device: native
// capability first, OS-level dialer or composer fallback second. It is
// stateless per attempt; callers own retry policy.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/safety-core/internal/native"
	"github.com/example/safety-core/internal/observability"
)

type Dispatcher struct {
	Calls    native.CallCapability // nil when the platform has no direct-call capability
	SMS      native.SMSCapability  // nil when the platform has no silent-send capability
	Launcher native.Launcher
	Perms    native.Permissions
	Logger   *slog.Logger
}

// PlaceCall attempts a direct call, falling back to the system dialer on
// permission denial, capability absence, or native failure. No automatic
// retry is performed.
func (d *Dispatcher) PlaceCall(ctx context.Context, number string) error {
	if number == "" {
		return fmt.Errorf("no number to call")
	}
	if d.Calls != nil {
		if err := d.requestPermission(ctx, native.PermissionCall); err == nil {
			err := d.Calls.Place(ctx, number)
			if err == nil {
				return nil
			}
			d.logger().Warn("direct call failed, falling back to dialer", "error", err)
		}
	}
	observability.CallFallbacksTotal.Inc()
	if err := d.Launcher.OpenDialer(number); err != nil {
		return fmt.Errorf("open dialer: %w", err)
	}
	return nil
}

// SendSMS attempts a silent send to every recipient, falling back to the
// default messaging app pre-filled with body and the recipients the silent
// path did not reach. The fallback reports success optimistically once the
// composer opens; delivery is not confirmed. Returns true if every recipient
// went through one path or the other.
func (d *Dispatcher) SendSMS(ctx context.Context, recipients []string, body string) bool {
	if len(recipients) == 0 {
		return false
	}
	unsent := recipients
	if d.SMS != nil {
		if err := d.requestPermission(ctx, native.PermissionSMS); err == nil {
			var failed []string
			for _, r := range recipients {
				if err := d.SMS.Send(ctx, r, body); err != nil {
					d.logger().Warn("silent sms failed", "recipient", r, "error", err)
					failed = append(failed, r)
				}
			}
			if len(failed) == 0 {
				return true
			}
			// composer only gets the recipients the silent path missed
			unsent = failed
		}
	}
	observability.SMSFallbacksTotal.Inc()
	if err := d.Launcher.OpenSMSComposer(unsent, body); err != nil {
		d.logger().Warn("sms composer fallback failed", "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) requestPermission(ctx context.Context, p native.Permission) error {
	if d.Perms == nil {
		return nil
	}
	err := d.Perms.Request(ctx, p)
	if errors.Is(err, native.ErrPermissionDenied) {
		d.logger().Info("permission denied, using fallback", "permission", string(p))
	}
	return err
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
