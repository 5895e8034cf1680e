package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/storage"
)

// Notifier pushes the status echo back over the driver's own connection so
// reconnect logic can resync.
type Notifier interface {
	Publish(driverID, event string, payload any) error
}

// StatusPublisher appends presence toggles to the event log; the consumer
// applies them to the redis mirror.
type StatusPublisher interface {
	PublishDriverStatus(e models.DriverStatusEvent) error
}

// Tracker owns the driver online/offline flag. The persisted flag is the
// single source of truth; the redis mirror and the websocket echo are
// derived views that may lag or be absent.
type Tracker struct {
	Store  storage.DriverStore
	Mirror *Mirror         // optional
	Notify Notifier        // optional
	Events StatusPublisher // optional
	Logger *slog.Logger
}

func NewTracker(store storage.DriverStore, mirror *Mirror, notify Notifier, events StatusPublisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{Store: store, Mirror: mirror, Notify: notify, Events: events, Logger: logger}
}

// SetStatus persists the new flag and propagates it to the derived views.
// Mirror and echo failures are logged, never surfaced: the store write is
// the only one that decides success.
func (t *Tracker) SetStatus(ctx context.Context, driverID string, online bool) (*models.Driver, error) {
	d, err := t.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if err := t.Store.SetDriverOnline(ctx, driverID, online); err != nil {
		return nil, err
	}
	if d.Online != online {
		if online {
			observability.DriversOnline.Inc()
		} else {
			observability.DriversOnline.Dec()
		}
	}
	d.Online = online

	if t.Mirror != nil {
		if err := t.Mirror.Apply(ctx, d.City, driverID, online); err != nil {
			t.Logger.Warn("presence mirror update failed", "driver_id", driverID, "error", err)
		}
	}
	if t.Events != nil {
		evt := models.DriverStatusEvent{DriverID: driverID, City: d.City, Online: online, At: time.Now()}
		if err := t.Events.PublishDriverStatus(evt); err != nil {
			t.Logger.Warn("presence event publish failed", "driver_id", driverID, "error", err)
		}
	}
	if t.Notify != nil {
		if err := t.Notify.Publish(driverID, models.EventUpdateStatus, map[string]any{"online": online}); err != nil {
			t.Logger.Debug("presence echo skipped", "driver_id", driverID, "error", err)
		}
	}
	return d, nil
}

// EligibleDrivers returns the drivers the broadcaster may notify for a
// request in the given city: same city, online right now. Reads go to the
// store, not the mirror, so a stale cache can never widen the set.
func (t *Tracker) EligibleDrivers(ctx context.Context, city string) ([]models.Driver, error) {
	return t.Store.ListOnlineByCity(ctx, city)
}
