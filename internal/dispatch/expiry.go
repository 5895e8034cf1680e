package dispatch

import (
	"context"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

// expire runs when the expiry timer for a request fires. The transition
// uses the same conditional write as claim and cancel, so a timer that
// fires just after a winning accept is a harmless no-op.
func (s *Service) expire(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := s.Store.TransitionRequest(ctx, requestID, models.StatusOpen, models.StatusExpired)
	if err != nil {
		s.Logger.Error("expiry transition failed", "request_id", requestID, "error", err)
		return
	}
	if !ok {
		// Already claimed or cancelled; the resolver handled cleanup.
		return
	}

	observability.RequestsExpired.Inc()
	req, err := s.Store.GetRequest(ctx, requestID)
	city := ""
	if err == nil {
		city = req.City
	}
	s.logEvent(models.DispatchEvent{Type: "request_expired", RequestID: requestID, City: city, At: time.Now()})

	// Dismiss the now-dead notification on every client that got one.
	notified := s.settle(requestID, "")
	s.fanOut(notified, models.EventRequestTaken, map[string]string{"request_id": requestID})

	s.Logger.Info("request expired", "request_id", requestID, "informed", len(notified))
}
