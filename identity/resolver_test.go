package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hut8/soar/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	byKey     map[cacheKey]*domain.Aircraft
	creates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[cacheKey]*domain.Aircraft)}
}

func (s *fakeStore) FindAircraft(_ context.Context, address string, addrType domain.AddressType) (*domain.Aircraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[cacheKey{address, addrType}], nil
}

func (s *fakeStore) CreateAircraft(_ context.Context, a *domain.Aircraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[cacheKey{a.Address, a.AddressType}] = a
	s.creates++
	return nil
}

func TestResolveCreatesNewAircraftOnce(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	msg := domain.DecodedMessage{Address: "395F39", AddressType: domain.AddressFlarm}
	a1, ok1 := r.Resolve(ctx, msg)
	a2, ok2 := r.Resolve(ctx, msg)

	if !ok1 || !ok2 {
		t.Fatal("expected both resolutions to be trackable")
	}
	if a1.ID != a2.ID {
		t.Errorf("expected same aircraft identity across resolves, got %v and %v", a1.ID, a2.ID)
	}
	if store.creates != 1 {
		t.Errorf("CreateAircraft called %d times, want 1", store.creates)
	}
}

func TestResolveDropsStealthAircraft(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	msg := domain.DecodedMessage{Address: "ABCDEF", AddressType: domain.AddressICAO, Stealth: true}
	a, ok := r.Resolve(ctx, msg)
	if ok {
		t.Error("expected stealth bit on a non-anonymizable address type to drop the fix")
	}
	if a.Tracked {
		t.Error("expected aircraft to be marked untracked")
	}
}

func TestResolveFlarmStealthStillTracked(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	// FLARM is itself an anonymizable address type in OGN practice; the
	// stealth bit there doesn't force a drop the way it does for ICAO.
	msg := domain.DecodedMessage{Address: "111111", AddressType: domain.AddressFlarm, Stealth: true}
	_, ok := r.Resolve(ctx, msg)
	if !ok {
		t.Error("expected flarm address type to remain tracked despite stealth bit")
	}
}

func TestDuplicateAddressDetection(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	r.Resolve(ctx, domain.DecodedMessage{Address: "ABC123", AddressType: domain.AddressICAO})
	r.Resolve(ctx, domain.DecodedMessage{Address: "ABC123", AddressType: domain.AddressFlarm})

	issues := r.DuplicateAddressIssues()
	if len(issues) != 1 {
		t.Fatalf("expected 1 duplicate-address issue, got %d", len(issues))
	}
	if issues[0].Address != "ABC123" {
		t.Errorf("Address = %q, want ABC123", issues[0].Address)
	}
}

func TestResolveQueuesEnrichmentForNewAircraft(t *testing.T) {
	store := newFakeStore()
	ddb := &recordingDDB{result: map[string][3]string{
		"395F39": {"N12345", "ASK-21", "FLARM"},
	}}
	r := NewResolver(store, ddb)
	ctx := context.Background()

	r.Resolve(ctx, domain.DecodedMessage{Address: "395F39", AddressType: domain.AddressFlarm})

	a, _ := store.FindAircraft(ctx, "395F39", domain.AddressFlarm)
	if a == nil {
		t.Fatal("expected aircraft to have been created")
	}
	waitForEnrichment(t, r, a)
}

type recordingDDB struct {
	result map[string][3]string
}

func (d *recordingDDB) Lookup(address string) (string, string, string, bool) {
	v, ok := d.result[address]
	if !ok {
		return "", "", "", false
	}
	return v[0], v[1], v[2], true
}

func waitForEnrichment(t *testing.T, r *Resolver, a *domain.Aircraft) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		identified := a.Identified
		r.mu.Unlock()
		if identified {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for async ddb enrichment")
}
