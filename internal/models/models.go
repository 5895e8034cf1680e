package models

import "time"

type RequestStatus string

const (
	StatusOpen      RequestStatus = "open"
	StatusClaimed   RequestStatus = "claimed"
	StatusExpired   RequestStatus = "expired"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether a request in this status can still change.
// Everything except open is final.
func (s RequestStatus) Terminal() bool { return s != StatusOpen }

// Event names delivered over a driver's realtime channel.
const (
	EventNewRequest   = "new_ambulance_request"
	EventRequestTaken = "request_taken"
	EventUpdateStatus = "update_status"
)

type AmbulanceRequest struct {
	ID            string        `json:"id"`
	PatientName   string        `json:"patient_name"`
	Address       string        `json:"address"`
	EmergencyType string        `json:"emergency_type"`
	City          string        `json:"city"`
	Status        RequestStatus `json:"status"`
	ClaimedBy     string        `json:"claimed_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Driver struct {
	ID               string    `json:"id"`
	City             string    `json:"city"`
	LicenseNumber    string    `json:"license_number"`
	Online           bool      `json:"online"`
	ActiveRequestIDs []string  `json:"active_request_ids"`
	Updated          time.Time `json:"updated"`
}

// DispatchEvent is appended to the dispatch event log on every request
// lifecycle transition.
type DispatchEvent struct {
	Type      string    `json:"type"` // request_created, request_claimed, request_expired, request_cancelled
	RequestID string    `json:"request_id"`
	City      string    `json:"city"`
	DriverID  string    `json:"driver_id,omitempty"`
	At        time.Time `json:"at"`
}

// DriverStatusEvent mirrors a presence toggle onto the event log so the
// consumer can keep the derived redis cache in sync.
type DriverStatusEvent struct {
	DriverID string    `json:"driver_id"`
	City     string    `json:"city"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}
