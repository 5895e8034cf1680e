package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// fakeMirror implements PresenceUpdater for tests
type fakeMirror struct {
	fail  int // number of times to fail before succeeding
	calls int
	last  models.DriverStatusEvent
}

func (f *fakeMirror) Apply(ctx context.Context, city, driverID string, online bool) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("mirror fail")
	}
	f.last = models.DriverStatusEvent{DriverID: driverID, City: city, Online: online}
	return nil
}

func TestUpdateMirrorWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeMirror{fail: 2}
	evt := models.DriverStatusEvent{DriverID: "d1", City: "Patna", Online: true}
	ctx := context.Background()
	start := time.Now()
	if err := updateMirrorWithRetry(ctx, f, evt, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.last.DriverID != "d1" || !f.last.Online {
		t.Fatalf("event not applied: %+v", f.last)
	}
}

func TestUpdateMirrorWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeMirror{fail: 5}
	evt := models.DriverStatusEvent{DriverID: "d1", City: "Patna", Online: false}
	if err := updateMirrorWithRetry(context.Background(), f, evt, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
