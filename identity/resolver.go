// Package identity resolves wire addresses to long-lived Aircraft
// identities, backed by an in-process LRU cache in front of the aircraft
// store, with async OGN device-database enrichment for newly seen
// addresses and duplicate-address detection across address types.
package identity

import (
	"context"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

// cacheKey is (address, address_type), the Aircraft uniqueness key.
type cacheKey struct {
	address string
	addrType domain.AddressType
}

// Store is the narrow persistence contract the resolver needs; a
// concrete implementation lives in the persistence package.
type Store interface {
	FindAircraft(ctx context.Context, address string, addrType domain.AddressType) (*domain.Aircraft, error)
	CreateAircraft(ctx context.Context, a *domain.Aircraft) error
}

// DDB is the OGN device database lookup used for async enrichment.
type DDB interface {
	Lookup(address string) (registration, model, trackerType string, ok bool)
}

const (
	defaultCacheSize = 1_000_000
	cacheTTL         = 24 * time.Hour
	dupWindow        = 7 * 24 * time.Hour
)

type cacheEntry struct {
	aircraft *domain.Aircraft
	expires  time.Time
}

// Resolver maps (address, address_type) pairs to Aircraft identities.
type Resolver struct {
	store Store
	ddb   DDB

	mu    sync.Mutex
	cache *lru.Cache[cacheKey, cacheEntry]

	addrMu      sync.Mutex
	addrObserved map[string]map[domain.AddressType]time.Time
	duplicates  map[string]struct{}

	enrichQueue chan *domain.Aircraft
}

// NewResolver builds a resolver backed by store, with an optional ddb for
// async enrichment (may be nil to skip enrichment, e.g. in tests).
func NewResolver(store Store, ddb DDB) *Resolver {
	cache, err := lru.New[cacheKey, cacheEntry](defaultCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens with the constant above.
		panic(err)
	}
	r := &Resolver{
		store:        store,
		ddb:          ddb,
		cache:        cache,
		addrObserved: make(map[string]map[domain.AddressType]time.Time),
		duplicates:   make(map[string]struct{}),
		enrichQueue:  make(chan *domain.Aircraft, 1024),
	}
	if ddb != nil {
		go r.enrichLoop()
	}
	return r
}

// Resolve maps a decoded message's address to its Aircraft identity,
// creating one if this is the first time it's been observed. It returns
// ok=false when the frame must be dropped downstream (stealth or
// no-tracking bit set on a non-anonymizable address type).
func (r *Resolver) Resolve(ctx context.Context, msg domain.DecodedMessage) (*domain.Aircraft, bool) {
	key := cacheKey{address: msg.Address, addrType: msg.AddressType}

	r.noteAddressObservation(msg.Address, msg.AddressType)

	r.mu.Lock()
	if entry, ok := r.cache.Get(key); ok && time.Now().Before(entry.expires) {
		r.mu.Unlock()
		return r.applyStealth(entry.aircraft, msg)
	}
	r.mu.Unlock()

	aircraft, err := r.store.FindAircraft(ctx, msg.Address, msg.AddressType)
	if err != nil {
		log.Printf("identity_store_error address=%s type=%s err=%q", msg.Address, msg.AddressType, err)
	}
	if aircraft == nil {
		aircraft = &domain.Aircraft{
			ID:          uuid.New(),
			Address:     msg.Address,
			AddressType: msg.AddressType,
			Tracked:     true,
			Identified:  false,
		}
		if err := r.store.CreateAircraft(ctx, aircraft); err != nil {
			log.Printf("identity_create_error address=%s err=%q", msg.Address, err)
		}
		if r.ddb != nil {
			select {
			case r.enrichQueue <- aircraft:
			default:
			}
		}
	}

	r.mu.Lock()
	r.cache.Add(key, cacheEntry{aircraft: aircraft, expires: time.Now().Add(cacheTTL)})
	r.mu.Unlock()

	return r.applyStealth(aircraft, msg)
}

// applyStealth marks the aircraft untracked when the stealth or
// no-tracking bit is asserted on a non-anonymizable address type, and
// reports whether the
// fix should be dropped downstream.
func (r *Resolver) applyStealth(a *domain.Aircraft, msg domain.DecodedMessage) (*domain.Aircraft, bool) {
	if (msg.Stealth || msg.NoTrack) && msg.AddressType != domain.AddressFlarm {
		a.Tracked = false
		return a, false
	}
	return a, true
}

func (r *Resolver) noteAddressObservation(address string, addrType domain.AddressType) {
	if address == "" {
		return
	}
	now := time.Now()
	r.addrMu.Lock()
	defer r.addrMu.Unlock()

	byType, ok := r.addrObserved[address]
	if !ok {
		byType = make(map[domain.AddressType]time.Time)
		r.addrObserved[address] = byType
	}
	byType[addrType] = now

	// prune anything outside the rolling window
	live := 0
	for t, seen := range byType {
		if now.Sub(seen) > dupWindow {
			delete(byType, t)
			continue
		}
		live++
	}
	if live > 1 {
		r.duplicates[address] = struct{}{}
	}
}

// DuplicateIssue describes an address observed under more than one
// address type within the rolling window.
type DuplicateIssue struct {
	Address string
	Types   []domain.AddressType
}

// DuplicateAddressIssues snapshots the current set of flagged addresses.
func (r *Resolver) DuplicateAddressIssues() []DuplicateIssue {
	r.addrMu.Lock()
	defer r.addrMu.Unlock()

	out := make([]DuplicateIssue, 0, len(r.duplicates))
	for addr := range r.duplicates {
		types := make([]domain.AddressType, 0, len(r.addrObserved[addr]))
		for t := range r.addrObserved[addr] {
			types = append(types, t)
		}
		out = append(out, DuplicateIssue{Address: addr, Types: types})
	}
	return out
}

func (r *Resolver) enrichLoop() {
	for a := range r.enrichQueue {
		reg, model, trackerType, ok := r.ddb.Lookup(a.Address)
		if !ok {
			continue
		}
		r.mu.Lock()
		a.Registration = &reg
		a.AircraftModel = &model
		a.TrackerDeviceType = &trackerType
		a.Identified = true
		a.FromOGNDDB = true
		r.mu.Unlock()
	}
}
