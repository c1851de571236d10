package fixbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

func aircraftFixture() *domain.Aircraft {
	return &domain.Aircraft{ID: uuid.New(), Address: "395F39", AddressType: domain.AddressFlarm}
}

func TestBuildMonotonicTimestamps(t *testing.T) {
	s := NewShard()
	ctx := context.Background()
	a := aircraftFixture()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	var last time.Time
	for i := 0; i < 10; i++ {
		msg := domain.DecodedMessage{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
			Latitude:   51, Longitude: 8,
		}
		fix, ok := s.Build(ctx, a, msg, uuid.New())
		if !ok {
			t.Fatalf("fix %d unexpectedly dropped", i)
		}
		if !fix.Timestamp.After(last) {
			t.Fatalf("fix %d timestamp %v not strictly after previous %v", i, fix.Timestamp, last)
		}
		last = fix.Timestamp
	}
}

func TestBuildDropsNonMonotoneTimestamp(t *testing.T) {
	s := NewShard()
	ctx := context.Background()
	a := aircraftFixture()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	msg1 := domain.DecodedMessage{Timestamp: base, ReceivedAt: base}
	if _, ok := s.Build(ctx, a, msg1, uuid.New()); !ok {
		t.Fatal("first fix should not be dropped")
	}

	msg2 := domain.DecodedMessage{Timestamp: base.Add(-time.Second), ReceivedAt: base}
	if _, ok := s.Build(ctx, a, msg2, uuid.New()); ok {
		t.Fatal("expected fix with timestamp <= last to be dropped")
	}
	if s.FixesDropped != 1 {
		t.Errorf("FixesDropped = %d, want 1", s.FixesDropped)
	}
}

func TestBuildDropsClockSkew(t *testing.T) {
	s := NewShard()
	ctx := context.Background()
	a := aircraftFixture()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	msg := domain.DecodedMessage{Timestamp: base.Add(5 * time.Minute), ReceivedAt: base}
	if _, ok := s.Build(ctx, a, msg, uuid.New()); ok {
		t.Fatal("expected clock-skewed fix to be dropped")
	}
	if s.DroppedClockSkew != 1 {
		t.Errorf("DroppedClockSkew = %d, want 1", s.DroppedClockSkew)
	}
}

func TestBuildClimbFPM(t *testing.T) {
	s := NewShard()
	ctx := context.Background()
	a := aircraftFixture()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	alt1, alt2 := 1000.0, 1500.0

	msg1 := domain.DecodedMessage{Timestamp: base, ReceivedAt: base, AltitudeMSL: &alt1}
	s.Build(ctx, a, msg1, uuid.New())

	msg2 := domain.DecodedMessage{Timestamp: base.Add(30 * time.Second), ReceivedAt: base.Add(30 * time.Second), AltitudeMSL: &alt2}
	fix2, ok := s.Build(ctx, a, msg2, uuid.New())
	if !ok {
		t.Fatal("fix2 unexpectedly dropped")
	}
	if fix2.ClimbFPM == nil {
		t.Fatal("expected climb_fpm to be computed")
	}
	want := 500.0 / (30.0 / 60)
	if *fix2.ClimbFPM != want {
		t.Errorf("ClimbFPM = %v, want %v", *fix2.ClimbFPM, want)
	}
}

func TestBuildTurnRateRejectedBelowMinSpeed(t *testing.T) {
	s := NewShard()
	ctx := context.Background()
	a := aircraftFixture()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	track1, track2 := 10.0, 20.0
	speed := 5.0 // below minSpeedForTurnRate

	msg1 := domain.DecodedMessage{Timestamp: base, ReceivedAt: base, Track: &track1, GroundSpeed: &speed}
	s.Build(ctx, a, msg1, uuid.New())
	msg2 := domain.DecodedMessage{Timestamp: base.Add(10 * time.Second), ReceivedAt: base.Add(10 * time.Second), Track: &track2, GroundSpeed: &speed}
	fix2, _ := s.Build(ctx, a, msg2, uuid.New())
	if fix2.TurnRateROT != nil {
		t.Error("expected turn rate to be rejected below min speed")
	}
}

func TestUnwrapAngleDeltaAcrossZero(t *testing.T) {
	if d := unwrapAngleDelta(350, 10); d != 20 {
		t.Errorf("unwrapAngleDelta(350,10) = %v, want 20", d)
	}
	if d := unwrapAngleDelta(10, 350); d != -20 {
		t.Errorf("unwrapAngleDelta(10,350) = %v, want -20", d)
	}
}

func TestPoolShardsSameAircraftConsistently(t *testing.T) {
	p := NewPool(4)
	id := uuid.New()
	first := p.ShardFor(id)
	for i := 0; i < 10; i++ {
		if p.ShardFor(id) != first {
			t.Fatal("expected the same aircraft to always land on the same shard")
		}
	}
}

func TestShardIndexMatchesPoolRouting(t *testing.T) {
	p := NewPool(8)
	if p.NumShards() != 8 {
		t.Fatalf("NumShards() = %d, want 8", p.NumShards())
	}
	for i := 0; i < 20; i++ {
		id := uuid.New()
		idx := ShardIndex(id, p.NumShards())
		if p.Shard(idx) != p.ShardFor(id) {
			t.Fatalf("ShardIndex(%s, %d) = %d did not match the shard ShardFor routed to", id, p.NumShards(), idx)
		}
	}
}
