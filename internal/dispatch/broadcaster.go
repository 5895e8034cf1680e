package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

// CreateRequestInput is the patient-facing shape for a new request.
type CreateRequestInput struct {
	PatientName   string `json:"patient_name"`
	Address       string `json:"address"`
	EmergencyType string `json:"emergency_type"`
	City          string `json:"city"`
}

func (in CreateRequestInput) validate() error {
	if in.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if in.City == "" {
		return fmt.Errorf("city is required")
	}
	return nil
}

// CreateRequest persists a new open request, appends it to the event log,
// broadcasts it to the eligible drivers and arms the expiry timer. It
// returns the stored request and the number of drivers notified.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.AmbulanceRequest, int, error) {
	if err := in.validate(); err != nil {
		return nil, 0, err
	}
	now := time.Now()
	req := &models.AmbulanceRequest{
		ID:            newID(),
		PatientName:   in.PatientName,
		Address:       in.Address,
		EmergencyType: in.EmergencyType,
		City:          in.City,
		Status:        models.StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.SaveRequest(ctx, req); err != nil {
		return nil, 0, fmt.Errorf("save request: %w", err)
	}
	s.logEvent(models.DispatchEvent{Type: "request_created", RequestID: req.ID, City: req.City, At: now})

	notified, err := s.Broadcast(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	return req, notified, nil
}

// Broadcast computes the eligible set (same city, online at this instant)
// and delivers new_ambulance_request to each driver concurrently. Drivers
// who come online afterwards are not replayed the request.
func (s *Service) Broadcast(ctx context.Context, req *models.AmbulanceRequest) (int, error) {
	drivers, err := s.Presence.EligibleDrivers(ctx, req.City)
	if err != nil {
		return 0, fmt.Errorf("eligible drivers: %w", err)
	}

	ids := make([]string, 0, len(drivers))
	pendingSet := make(map[string]bool, len(drivers))
	for _, d := range drivers {
		ids = append(ids, d.ID)
		pendingSet[d.ID] = true
	}

	entry := &pendingRequest{
		notified:  ids,
		pending:   pendingSet,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.pending[req.ID] = entry
	entry.timer = time.AfterFunc(s.Window, func() { s.expire(req.ID) })
	s.mu.Unlock()

	delivered := s.fanOut(ids, models.EventNewRequest, req)

	observability.BroadcastsTotal.Inc()
	observability.NotifiedDrivers.Add(float64(len(ids)))
	observability.NotifyFailures.Add(float64(len(ids) - delivered))

	s.Logger.Info("request broadcast",
		"request_id", req.ID,
		"city", req.City,
		"eligible", len(ids),
		"delivered", delivered,
	)
	return len(ids), nil
}
