package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

func openRequest(t *testing.T, m *MemoryStore, id string) {
	t.Helper()
	now := time.Now()
	err := m.SaveRequest(context.Background(), &models.AmbulanceRequest{
		ID: id, PatientName: "Asha", City: "Patna",
		Status: models.StatusOpen, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("save request: %v", err)
	}
}

func TestClaimRequestSingleWinner(t *testing.T) {
	m := NewMemoryStore()
	openRequest(t, m, "R1")

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		driverID := fmt.Sprintf("D%d", i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok, err := m.ClaimRequest(context.Background(), "R1", id)
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			if ok {
				wins <- id
			}
		}(driverID)
	}
	wg.Wait()
	close(wins)

	winners := make([]string, 0, 1)
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(winners))
	}

	r, err := m.GetRequest(context.Background(), "R1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if r.Status != models.StatusClaimed || r.ClaimedBy != winners[0] {
		t.Fatalf("status=%s claimed_by=%s winner=%s", r.Status, r.ClaimedBy, winners[0])
	}
}

func TestClaimRequestUnknownID(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.ClaimRequest(context.Background(), "nope", "D1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionRequestGuardsCurrentStatus(t *testing.T) {
	m := NewMemoryStore()
	openRequest(t, m, "R1")

	ok, err := m.TransitionRequest(context.Background(), "R1", models.StatusOpen, models.StatusExpired)
	if err != nil || !ok {
		t.Fatalf("open->expired should succeed, ok=%v err=%v", ok, err)
	}
	ok, err = m.TransitionRequest(context.Background(), "R1", models.StatusOpen, models.StatusCancelled)
	if err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if ok {
		t.Fatal("transition from a status the request is no longer in must report false")
	}
}

func TestGetRequestReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	openRequest(t, m, "R1")

	r, err := m.GetRequest(context.Background(), "R1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	r.Status = models.StatusCancelled

	again, _ := m.GetRequest(context.Background(), "R1")
	if again.Status != models.StatusOpen {
		t.Fatal("mutating a returned request must not affect the store")
	}
}

func TestListOnlineByCity(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.UpsertDriver(ctx, &models.Driver{ID: "D1", City: "Patna", Online: true})
	_ = m.UpsertDriver(ctx, &models.Driver{ID: "D2", City: "Patna", Online: false})
	_ = m.UpsertDriver(ctx, &models.Driver{ID: "D3", City: "Delhi", Online: true})

	out, err := m.ListOnlineByCity(ctx, "Patna")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "D1" {
		t.Fatalf("expected [D1], got %v", out)
	}
}

func TestAddActiveRequestDeduplicates(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.UpsertDriver(ctx, &models.Driver{ID: "D1", City: "Patna", Online: true})

	for i := 0; i < 3; i++ {
		if err := m.AddActiveRequest(ctx, "D1", "R1"); err != nil {
			t.Fatalf("add active: %v", err)
		}
	}
	d, _ := m.GetDriver(ctx, "D1")
	if len(d.ActiveRequestIDs) != 1 {
		t.Fatalf("expected 1 active request, got %v", d.ActiveRequestIDs)
	}
}
