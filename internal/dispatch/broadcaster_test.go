package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/presence"
	"github.com/example/ambulance-dispatch/internal/storage"
)

type sentEvent struct {
	event   string
	payload any
}

// fakeNotifier records deliveries per driver and can be told to fail for
// specific drivers.
type fakeNotifier struct {
	mu     sync.Mutex
	events map[string][]sentEvent
	fail   map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[string][]sentEvent), fail: make(map[string]bool)}
}

func (f *fakeNotifier) Publish(driverID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[driverID] {
		return errors.New("delivery failed")
	}
	f.events[driverID] = append(f.events[driverID], sentEvent{event: event, payload: payload})
	return nil
}

func (f *fakeNotifier) count(driverID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events[driverID] {
		if e.event == event {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, window time.Duration) (*Service, *storage.MemoryStore, *fakeNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	notifier := newFakeNotifier()
	tracker := presence.NewTracker(store, nil, nil, nil, nil)
	svc := NewService(store, tracker, notifier, nil, nil, window)
	t.Cleanup(svc.Stop)
	return svc, store, notifier
}

func addDriver(t *testing.T, store *storage.MemoryStore, id, city string, online bool) {
	t.Helper()
	d := &models.Driver{ID: id, City: city, LicenseNumber: "LIC-" + id, Online: online}
	if err := store.UpsertDriver(context.Background(), d); err != nil {
		t.Fatalf("upsert driver %s: %v", id, err)
	}
}

func TestBroadcastEligibilityFilter(t *testing.T) {
	svc, store, notifier := newTestService(t, time.Minute)
	ctx := context.Background()

	addDriver(t, store, "D1", "Patna", true)
	addDriver(t, store, "D2", "Patna", false)
	addDriver(t, store, "D3", "Delhi", true)

	req, notified, err := svc.CreateRequest(ctx, CreateRequestInput{
		PatientName:   "Asha",
		Address:       "12 Gandhi Maidan",
		EmergencyType: "cardiac",
		City:          "Patna",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 driver notified, got %d", notified)
	}
	if got := notifier.count("D1", models.EventNewRequest); got != 1 {
		t.Fatalf("D1 should receive exactly one new_ambulance_request, got %d", got)
	}
	for _, id := range []string{"D2", "D3"} {
		if got := notifier.count(id, models.EventNewRequest); got != 0 {
			t.Fatalf("%s should not be notified, got %d deliveries", id, got)
		}
	}

	stored, err := store.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != models.StatusOpen {
		t.Fatalf("expected open, got %s", stored.Status)
	}
}

func TestBroadcastFailedDeliveryDoesNotBlockOthers(t *testing.T) {
	svc, store, notifier := newTestService(t, time.Minute)
	ctx := context.Background()

	addDriver(t, store, "D1", "Patna", true)
	addDriver(t, store, "D2", "Patna", true)
	notifier.fail["D1"] = true

	_, notified, err := svc.CreateRequest(ctx, CreateRequestInput{PatientName: "Asha", City: "Patna"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	// eligible set is reported even when a delivery fails
	if notified != 2 {
		t.Fatalf("expected 2 eligible drivers, got %d", notified)
	}
	if got := notifier.count("D2", models.EventNewRequest); got != 1 {
		t.Fatalf("D2 should still receive the request, got %d", got)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	svc, _, _ := newTestService(t, time.Minute)
	if _, _, err := svc.CreateRequest(context.Background(), CreateRequestInput{City: "Patna"}); err == nil {
		t.Fatal("expected error for missing patient name")
	}
	if _, _, err := svc.CreateRequest(context.Background(), CreateRequestInput{PatientName: "Asha"}); err == nil {
		t.Fatal("expected error for missing city")
	}
}

func TestLateOnlineDriverNotReplayed(t *testing.T) {
	svc, store, notifier := newTestService(t, time.Minute)
	ctx := context.Background()

	addDriver(t, store, "D1", "Patna", true)
	addDriver(t, store, "D2", "Patna", false)

	if _, _, err := svc.CreateRequest(ctx, CreateRequestInput{PatientName: "Asha", City: "Patna"}); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.SetDriverOnline(ctx, "D2", true); err != nil {
		t.Fatalf("set online: %v", err)
	}
	if got := notifier.count("D2", models.EventNewRequest); got != 0 {
		t.Fatalf("driver who came online after broadcast must not be replayed, got %d", got)
	}
}
