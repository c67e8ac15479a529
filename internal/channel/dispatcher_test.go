package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/example/safety-core/internal/native"
)

type fakeCalls struct {
	err    error
	placed []string
}

func (f *fakeCalls) Place(_ context.Context, number string) error {
	if f.err != nil {
		return f.err
	}
	f.placed = append(f.placed, number)
	return nil
}

type fakeSMS struct {
	err     error
	failFor map[string]bool
	sent    []string
}

func (f *fakeSMS) Send(_ context.Context, phone, body string) error {
	if f.err != nil {
		return f.err
	}
	if f.failFor[phone] {
		return errors.New("send rejected")
	}
	f.sent = append(f.sent, phone)
	return nil
}

type fakeLauncher struct {
	dialed    []string
	composed  [][]string
	launchErr error
}

func (f *fakeLauncher) OpenDialer(number string) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.dialed = append(f.dialed, number)
	return nil
}

func (f *fakeLauncher) OpenSMSComposer(recipients []string, body string) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.composed = append(f.composed, recipients)
	return nil
}

type denyPerms struct{ deny map[native.Permission]bool }

func (d *denyPerms) Request(_ context.Context, p native.Permission) error {
	if d.deny[p] {
		return native.ErrPermissionDenied
	}
	return nil
}

func TestPlaceCallDirect(t *testing.T) {
	calls := &fakeCalls{}
	l := &fakeLauncher{}
	d := &Dispatcher{Calls: calls, Launcher: l}
	if err := d.PlaceCall(context.Background(), "112"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(calls.placed) != 1 || len(l.dialed) != 0 {
		t.Fatalf("expected direct call, got placed=%v dialed=%v", calls.placed, l.dialed)
	}
}

func TestPlaceCallFallsBackOnNativeFailure(t *testing.T) {
	calls := &fakeCalls{err: errors.New("telephony busy")}
	l := &fakeLauncher{}
	d := &Dispatcher{Calls: calls, Launcher: l}
	if err := d.PlaceCall(context.Background(), "112"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(l.dialed) != 1 {
		t.Fatalf("expected dialer fallback, got %v", l.dialed)
	}
}

func TestPlaceCallFallsBackWhenCapabilityMissing(t *testing.T) {
	l := &fakeLauncher{}
	d := &Dispatcher{Calls: nil, Launcher: l}
	if err := d.PlaceCall(context.Background(), "112"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(l.dialed) != 1 {
		t.Fatalf("expected dialer fallback, got %v", l.dialed)
	}
}

func TestPlaceCallFallsBackOnPermissionDenied(t *testing.T) {
	calls := &fakeCalls{}
	l := &fakeLauncher{}
	d := &Dispatcher{
		Calls:    calls,
		Launcher: l,
		Perms:    &denyPerms{deny: map[native.Permission]bool{native.PermissionCall: true}},
	}
	if err := d.PlaceCall(context.Background(), "112"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(calls.placed) != 0 || len(l.dialed) != 1 {
		t.Fatalf("expected dialer only, got placed=%v dialed=%v", calls.placed, l.dialed)
	}
}

func TestPlaceCallEmptyNumber(t *testing.T) {
	d := &Dispatcher{Launcher: &fakeLauncher{}}
	if err := d.PlaceCall(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty number")
	}
}

func TestSendSMSDirectAllRecipients(t *testing.T) {
	sms := &fakeSMS{}
	l := &fakeLauncher{}
	d := &Dispatcher{SMS: sms, Launcher: l}
	ok := d.SendSMS(context.Background(), []string{"+1", "+2"}, "hello")
	if !ok {
		t.Fatal("expected success")
	}
	if len(sms.sent) != 2 || len(l.composed) != 0 {
		t.Fatalf("expected silent sends, got sent=%v composed=%v", sms.sent, l.composed)
	}
}

func TestSendSMSFallsBackToComposer(t *testing.T) {
	sms := &fakeSMS{err: errors.New("no sim")}
	l := &fakeLauncher{}
	d := &Dispatcher{SMS: sms, Launcher: l}
	if ok := d.SendSMS(context.Background(), []string{"+1"}, "hello"); !ok {
		t.Fatal("composer open should report optimistic success")
	}
	if len(l.composed) != 1 {
		t.Fatalf("expected composer fallback, got %v", l.composed)
	}
}

func TestSendSMSPartialFailureFallsBackWithRemainderOnly(t *testing.T) {
	sms := &fakeSMS{failFor: map[string]bool{"+2": true}}
	l := &fakeLauncher{}
	d := &Dispatcher{SMS: sms, Launcher: l}
	if ok := d.SendSMS(context.Background(), []string{"+1", "+2", "+3"}, "hello"); !ok {
		t.Fatal("expected overall success via composer remainder")
	}
	if len(sms.sent) != 2 {
		t.Fatalf("silent path should still reach the healthy recipients, got %v", sms.sent)
	}
	if len(l.composed) != 1 {
		t.Fatalf("expected one composer fallback, got %v", l.composed)
	}
	if got := l.composed[0]; len(got) != 1 || got[0] != "+2" {
		t.Fatalf("composer must not re-message recipients already served, got %v", got)
	}
}

func TestSendSMSFailsWhenBothPathsFail(t *testing.T) {
	sms := &fakeSMS{err: errors.New("no sim")}
	l := &fakeLauncher{launchErr: errors.New("no messaging app")}
	d := &Dispatcher{SMS: sms, Launcher: l}
	if ok := d.SendSMS(context.Background(), []string{"+1"}, "hello"); ok {
		t.Fatal("expected failure when both paths fail")
	}
}

func TestSendSMSNoRecipients(t *testing.T) {
	d := &Dispatcher{Launcher: &fakeLauncher{}}
	if d.SendSMS(context.Background(), nil, "hello") {
		t.Fatal("no recipients must not succeed")
	}
}
