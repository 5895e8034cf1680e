package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// ErrNotFound is returned when a request or driver id is unknown.
var ErrNotFound = errors.New("not found")

// RequestStore defines persistence operations for ambulance requests.
// ClaimRequest and TransitionRequest are conditional writes keyed on the
// current status; they report false instead of mutating anything when the
// request has already left that status.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.AmbulanceRequest) error
	GetRequest(ctx context.Context, id string) (*models.AmbulanceRequest, error)
	ClaimRequest(ctx context.Context, id, driverID string) (bool, error)
	TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error)
}

// DriverStore defines persistence operations for driver records. The
// persisted online flag is the single source of truth for eligibility.
type DriverStore interface {
	UpsertDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SetDriverOnline(ctx context.Context, id string, online bool) error
	ListOnlineByCity(ctx context.Context, city string) ([]models.Driver, error)
	AddActiveRequest(ctx context.Context, driverID, requestID string) error
}

// Store combines both sides for callers that need the full surface.
type Store interface {
	RequestStore
	DriverStore
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.AmbulanceRequest
	drivers  map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.AmbulanceRequest),
		drivers:  make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) SaveRequest(ctx context.Context, r *models.AmbulanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*models.AmbulanceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ClaimRequest performs the check-and-set under one lock so two racing
// accepts cannot both observe status == open.
func (m *MemoryStore) ClaimRequest(ctx context.Context, id, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.StatusOpen {
		return false, nil
	}
	r.Status = models.StatusClaimed
	r.ClaimedBy = driverID
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Updated = time.Now()
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetDriverOnline(ctx context.Context, id string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	d.Online = online
	d.Updated = time.Now()
	return nil
}

func (m *MemoryStore) ListOnlineByCity(ctx context.Context, city string) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range m.drivers {
		if d.Online && d.City == city {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *MemoryStore) AddActiveRequest(ctx context.Context, driverID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range d.ActiveRequestIDs {
		if id == requestID {
			return nil
		}
	}
	d.ActiveRequestIDs = append(d.ActiveRequestIDs, requestID)
	d.Updated = time.Now()
	return nil
}
