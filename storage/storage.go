// Package storage is the receiver table: a small BuntDB-backed store
// holding one row per ground station passed to Observe, answering lookups
// by callsign (Get) and by bounds (NearBounds) without a round trip to
// Postgres.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"github.com/hut8/soar/domain"
)

// Store wraps a BuntDB file holding one JSON record per receiver, keyed by
// callsign.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if missing) the BuntDB file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = filepath.Join(".", "data", "receivers.buntdb")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func key(callsign string) string {
	return "rcvr:" + strings.ToUpper(strings.TrimSpace(callsign))
}

// Observe upserts the receiver table row for a beacon. A brand-new
// callsign is assigned a fresh ID and FirstHeard=now; an existing row
// keeps its ID and FirstHeard, and only LastHeard/position move forward.
func (s *Store) Observe(beacon domain.ReceiverBeacon, at time.Time) (*domain.Receiver, error) {
	r := domain.Receiver{
		ID:         uuid.New(),
		Callsign:   strings.ToUpper(strings.TrimSpace(beacon.Callsign)),
		Latitude:   beacon.Latitude,
		Longitude:  beacon.Longitude,
		FirstHeard: at,
		LastHeard:  at,
	}
	if beacon.Comment != "" {
		r.Description = &beacon.Comment
	}

	k := key(beacon.Callsign)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		if existing, err := tx.Get(k); err == nil {
			var prev domain.Receiver
			if jsonErr := json.Unmarshal([]byte(existing), &prev); jsonErr == nil {
				r.ID = prev.ID
				r.FirstHeard = prev.FirstHeard
				if r.Latitude == nil {
					r.Latitude = prev.Latitude
				}
				if r.Longitude == nil {
					r.Longitude = prev.Longitude
				}
				if r.Description == nil {
					r.Description = prev.Description
				}
			}
		}
		buf, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(k, string(buf), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: observe: %w", err)
	}
	return &r, nil
}

// Get returns the receiver row for a callsign, or ok=false if never observed.
func (s *Store) Get(callsign string) (*domain.Receiver, bool) {
	var r domain.Receiver
	found := false
	_ = s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key(callsign))
		if err != nil {
			return nil
		}
		if json.Unmarshal([]byte(v), &r) == nil {
			found = true
		}
		return nil
	})
	if !found {
		return nil, false
	}
	return &r, true
}

// NearBounds returns every receiver whose last-known position falls
// within the given bounds. The table is small (thousands of ground
// stations at most) so a linear scan, as the teacher's own
// CurrentInBBox does over its position cache, is plenty fast.
func (s *Store) NearBounds(b domain.Bounds) []domain.Receiver {
	var out []domain.Receiver
	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("rcvr:*", func(_, v string) bool {
			var r domain.Receiver
			if json.Unmarshal([]byte(v), &r) != nil || r.Latitude == nil || r.Longitude == nil {
				return true
			}
			if b.Contains(*r.Latitude, *r.Longitude) {
				out = append(out, r)
			}
			return true
		})
	})
	return out
}
