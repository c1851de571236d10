package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hut8/soar/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestObserveInsertsThenUpdatesInPlace(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "receivers.buntdb"))
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer s.Close()

	t1 := time.Now().Add(-time.Hour)
	r1, err := s.Observe(domain.ReceiverBeacon{Callsign: "lsxa", Latitude: floatPtr(47.0), Longitude: floatPtr(8.0)}, t1)
	if err != nil {
		t.Fatalf("Observe() err = %v", err)
	}

	t2 := time.Now()
	r2, err := s.Observe(domain.ReceiverBeacon{Callsign: "LSXA", Latitude: floatPtr(47.1), Longitude: floatPtr(8.1)}, t2)
	if err != nil {
		t.Fatalf("Observe() err = %v", err)
	}

	if r2.ID != r1.ID {
		t.Fatalf("second Observe assigned a new ID: %v != %v", r2.ID, r1.ID)
	}
	if !r2.FirstHeard.Equal(r1.FirstHeard) {
		t.Fatalf("FirstHeard moved: %v != %v", r2.FirstHeard, r1.FirstHeard)
	}
	if !r2.LastHeard.Equal(t2) {
		t.Fatalf("LastHeard = %v, want %v", r2.LastHeard, t2)
	}
}

func TestGetReturnsFalseWhenNeverObserved(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "receivers.buntdb"))
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer s.Close()

	if _, ok := s.Get("NOPE"); ok {
		t.Fatal("Get() = true for an unobserved callsign")
	}
}

func TestNearBoundsFiltersByPosition(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "receivers.buntdb"))
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer s.Close()

	now := time.Now()
	if _, err := s.Observe(domain.ReceiverBeacon{Callsign: "IN", Latitude: floatPtr(47.0), Longitude: floatPtr(8.0)}, now); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Observe(domain.ReceiverBeacon{Callsign: "OUT", Latitude: floatPtr(10.0), Longitude: floatPtr(10.0)}, now); err != nil {
		t.Fatal(err)
	}

	got := s.NearBounds(domain.Bounds{North: 48, South: 46, East: 9, West: 7})
	if len(got) != 1 || got[0].Callsign != "IN" {
		t.Fatalf("NearBounds() = %+v, want only IN", got)
	}
}
