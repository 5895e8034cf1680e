package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

// Action is a driver's response to a broadcast request.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

func ParseAction(v string) (Action, error) {
	switch Action(v) {
	case ActionAccept, ActionDecline:
		return Action(v), nil
	}
	return "", fmt.Errorf("unknown action %q", v)
}

// Respond arbitrates a driver's accept or decline for a request.
//
// Accept is gated on eligibility first: the driver must be in the
// request's city, online, and part of the set notified at broadcast
// time. Past that gate it hinges on one conditional write: of N drivers
// racing here, the store lets exactly one claim through and everyone
// else gets ErrAlreadyClaimed. The winner is recorded on the driver record and every
// other originally notified driver receives one request_taken event.
//
// Decline only removes the driver from the pending set; it is idempotent
// and never errors for a known request.
func (s *Service) Respond(ctx context.Context, requestID, driverID string, action Action) error {
	req, err := s.Store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if action == ActionDecline {
		s.mu.Lock()
		if entry, ok := s.pending[requestID]; ok {
			delete(entry.pending, driverID)
		}
		s.mu.Unlock()
		return nil
	}

	drv, err := s.Store.GetDriver(ctx, driverID)
	if err != nil {
		return ErrNotEligible
	}
	if drv.City != req.City || !drv.Online {
		return ErrNotEligible
	}
	if !s.wasNotified(requestID, driverID) {
		return ErrNotEligible
	}

	ok, err := s.Store.ClaimRequest(ctx, requestID, driverID)
	if err != nil {
		// The conditional write is all-or-nothing: on error the request
		// is still open for everyone else.
		return fmt.Errorf("claim request: %w", err)
	}
	if !ok {
		observability.ClaimConflicts.Inc()
		return ErrAlreadyClaimed
	}

	observability.ClaimsTotal.Inc()
	if err := s.Store.AddActiveRequest(ctx, driverID, requestID); err != nil {
		// The claim itself is durable; the active set is bookkeeping.
		s.Logger.Warn("active request update failed", "driver_id", driverID, "request_id", requestID, "error", err)
	}
	s.logEvent(models.DispatchEvent{Type: "request_claimed", RequestID: requestID, City: req.City, DriverID: driverID, At: time.Now()})

	others := s.settle(requestID, driverID)
	s.fanOut(others, models.EventRequestTaken, map[string]string{"request_id": requestID})

	s.Logger.Info("request claimed", "request_id", requestID, "driver_id", driverID, "informed", len(others))
	return nil
}

// Cancel is the patient-side transition out of open. It uses the same
// conditional write as the claim, so a cancel racing an accept loses
// cleanly when the accept lands first.
func (s *Service) Cancel(ctx context.Context, requestID string) error {
	ok, err := s.Store.TransitionRequest(ctx, requestID, models.StatusOpen, models.StatusCancelled)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	if !ok {
		return ErrAlreadyClaimed
	}

	observability.RequestsCancelled.Inc()
	req, err := s.Store.GetRequest(ctx, requestID)
	city := ""
	if err == nil {
		city = req.City
	}
	s.logEvent(models.DispatchEvent{Type: "request_cancelled", RequestID: requestID, City: city, At: time.Now()})

	notified := s.settle(requestID, "")
	s.fanOut(notified, models.EventRequestTaken, map[string]string{"request_id": requestID})

	s.Logger.Info("request cancelled", "request_id", requestID, "informed", len(notified))
	return nil
}

// wasNotified reports whether the driver was part of the original
// notified set for the request. When no pending entry exists (broadcast
// happened before a restart or on another instance) the set is unknown
// and the city/online checks above are the only gate.
func (s *Service) wasNotified(requestID, driverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[requestID]
	if !ok {
		return true
	}
	for _, id := range entry.notified {
		if id == driverID {
			return true
		}
	}
	return false
}

// settle tears down the pending entry for a resolved request and returns
// the originally notified drivers, minus the excluded one. It also records
// the broadcast-to-claim latency when the winner is known.
func (s *Service) settle(requestID, exclude string) []string {
	s.mu.Lock()
	entry, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()

	if !ok {
		// Broadcast happened on another instance or before a restart; the
		// claim is still correct, we just cannot dismiss the stale
		// notifications from here.
		s.Logger.Warn("no pending entry for resolved request", "request_id", requestID)
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if exclude != "" {
		observability.ClaimLatency.Observe(time.Since(entry.createdAt).Seconds())
	}

	out := make([]string, 0, len(entry.notified))
	for _, id := range entry.notified {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
