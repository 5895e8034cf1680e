package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

var (
	// ErrAlreadyClaimed is returned to any driver whose accept (or any
	// patient cancel) arrives after the request left the open status.
	ErrAlreadyClaimed = errors.New("request already claimed")

	// ErrNotEligible is returned when a driver responds to a request
	// outside their city or while offline.
	ErrNotEligible = errors.New("driver not eligible")
)

// Presence serves the broadcaster's eligibility query.
type Presence interface {
	EligibleDrivers(ctx context.Context, city string) ([]models.Driver, error)
}

// Notifier delivers one named event to one driver's realtime channel.
type Notifier interface {
	Publish(driverID, event string, payload any) error
}

// EventLog records request lifecycle transitions for downstream consumers.
type EventLog interface {
	PublishEvent(e models.DispatchEvent) error
}

// Service coordinates the broadcast/accept race for ambulance requests.
// It tracks, per open request, the set of drivers that were notified so a
// successful claim can tell the rest to stand down.
type Service struct {
	Store    storage.Store
	Presence Presence
	Notify   Notifier
	Events   EventLog // optional
	Logger   *slog.Logger

	// Window is how long an open request waits for an accept before it
	// is expired server-side.
	Window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// pendingRequest is the in-memory bookkeeping for one open request on this
// instance. notified is the original eligible set at broadcast time and
// never shrinks; pending shrinks as drivers decline.
type pendingRequest struct {
	notified  []string
	pending   map[string]bool
	timer     *time.Timer
	createdAt time.Time
}

func NewService(store storage.Store, pres Presence, notify Notifier, events EventLog, logger *slog.Logger, window time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Service{
		Store:    store,
		Presence: pres,
		Notify:   notify,
		Events:   events,
		Logger:   logger,
		Window:   window,
		pending:  make(map[string]*pendingRequest),
	}
}

// Stop cancels all armed expiry timers. Used on shutdown and in tests.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.pending, id)
	}
}

// fanOut delivers one event to each driver concurrently. A failed delivery
// is logged and never blocks the others. Returns the number delivered.
func (s *Service) fanOut(driverIDs []string, event string, payload any) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for _, id := range driverIDs {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			if err := s.Notify.Publish(driverID, event, payload); err != nil {
				s.Logger.Warn("notify failed", "driver_id", driverID, "event", event, "error", err)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return delivered
}

func (s *Service) logEvent(e models.DispatchEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishEvent(e); err != nil {
		s.Logger.Warn("event log publish failed", "type", e.Type, "request_id", e.RequestID, "error", err)
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
