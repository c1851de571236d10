// Package fixbuilder turns (Aircraft, DecodedMessage) pairs into
// canonical pre-AGL Fix records, deriving time_gap_seconds, climb_fpm and
// turn_rate_rot, and enforcing monotonic per-aircraft timestamps.
package fixbuilder

import (
	"context"
	"log"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hut8/soar/domain"
)

const (
	maxClockSkew = 2 * 60 // seconds, a fix authored further in the future than this is dropped
	maxGapForClimb = 300 // seconds
	minSpeedForTurnRate = 10 // knots
	activeAircraftLRUSize = 100_000
)

// aircraftState is the small per-aircraft window the builder keeps to
// derive time_gap_seconds, climb_fpm and turn_rate_rot.
type aircraftState struct {
	lastTimestamp   int64 // unix seconds
	lastAltitudeMSL *float64
	lastTrack       *float64
	lastReceivedAt  int64
}

// Shard processes one aircraft_id % N bucket. All fixes for a given
// aircraft always land on the same shard, which is what gives the
// builder its per-aircraft ordering guarantee without per-aircraft locks.
type Shard struct {
	states *lru.Cache[uuid.UUID, *aircraftState]

	FixesDropped       int64
	DroppedClockSkew   int64
}

// NewShard returns a shard with its own bounded aircraft-state cache.
func NewShard() *Shard {
	c, err := lru.New[uuid.UUID, *aircraftState](activeAircraftLRUSize)
	if err != nil {
		panic(err)
	}
	return &Shard{states: c}
}

// Pool shards work across N workers by aircraft_id, matching the
// concurrency model's "sharding by aircraft_id mod N" requirement.
type Pool struct {
	shards []*Shard
}

// NewPool creates a pool of n shards.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{shards: make([]*Shard, n)}
	for i := range p.shards {
		p.shards[i] = NewShard()
	}
	return p
}

// ShardFor returns the shard responsible for aircraftID.
func (p *Pool) ShardFor(aircraftID uuid.UUID) *Shard {
	return p.shards[shardIndex(aircraftID, len(p.shards))]
}

// NumShards reports how many shards the pool was built with.
func (p *Pool) NumShards() int { return len(p.shards) }

// Shard returns the shard at index i, so a caller running one worker
// goroutine per shard can pin itself to a single Shard instance instead of
// rehashing on every message.
func (p *Pool) Shard(i int) *Shard { return p.shards[i] }

// ShardIndex reports which shard Build for aircraftID would land on in a
// pool of n shards. Callers that dispatch work onto per-shard channels use
// this to route a message to the same worker Build itself would use.
func ShardIndex(aircraftID uuid.UUID, n int) int {
	return shardIndex(aircraftID, n)
}

func shardIndex(id uuid.UUID, n int) int {
	var sum uint32
	for _, b := range id {
		sum += uint32(b)
	}
	return int(sum) % n
}

// Build constructs the canonical pre-AGL Fix for one decoded aircraft
// message, or ok=false if the fix must be dropped (non-monotone timestamp
// or excessive clock skew).
func (s *Shard) Build(ctx context.Context, aircraft *domain.Aircraft, msg domain.DecodedMessage, rawMessageID uuid.UUID) (domain.Fix, bool) {
	_ = ctx
	if msg.Timestamp.Unix()-msg.ReceivedAt.Unix() > maxClockSkew {
		s.DroppedClockSkew++
		log.Printf("fix_dropped_clock_skew aircraft=%s timestamp=%s received_at=%s", aircraft.Address, msg.Timestamp, msg.ReceivedAt)
		return domain.Fix{}, false
	}

	st, ok := s.states.Get(aircraft.ID)
	if !ok {
		st = &aircraftState{}
	}

	if st.lastTimestamp != 0 && msg.Timestamp.Unix() <= st.lastTimestamp {
		s.FixesDropped++
		return domain.Fix{}, false
	}

	fix := domain.Fix{
		ID:           uuid.New(),
		AircraftID:   aircraft.ID,
		RawMessageID: rawMessageID,
		ReceiverID:   msg.ReceiverID,
		Source:       msg.Source,
		Timestamp:    msg.Timestamp,
		ReceivedAt:   msg.ReceivedAt,
		Latitude:     msg.Latitude,
		Longitude:    msg.Longitude,
		AltitudeMSLFeet:  msg.AltitudeMSL,
		GroundSpeedKnots: msg.GroundSpeed,
		TrackDegrees:     msg.Track,
	}

	if st.lastTimestamp != 0 {
		gap := float64(msg.Timestamp.Unix() - st.lastTimestamp)
		fix.TimeGapSeconds = &gap

		if fix.AltitudeMSLFeet != nil && st.lastAltitudeMSL != nil && gap > 0 && gap < maxGapForClimb {
			climb := (*fix.AltitudeMSLFeet - *st.lastAltitudeMSL) / (gap / 60)
			fix.ClimbFPM = &climb
		}

		if fix.TrackDegrees != nil && st.lastTrack != nil && gap > 0 {
			if fix.GroundSpeedKnots == nil || *fix.GroundSpeedKnots >= minSpeedForTurnRate {
				delta := unwrapAngleDelta(*st.lastTrack, *fix.TrackDegrees)
				rate := delta / (gap / 60)
				fix.TurnRateROT = &rate
			}
		}
	}

	st.lastTimestamp = msg.Timestamp.Unix()
	st.lastAltitudeMSL = fix.AltitudeMSLFeet
	st.lastTrack = fix.TrackDegrees
	st.lastReceivedAt = msg.ReceivedAt.Unix()
	s.states.Add(aircraft.ID, st)

	return fix, true
}

// unwrapAngleDelta returns the signed shortest angular delta from 'from'
// to 'to', handling the 0deg/360deg wraparound.
func unwrapAngleDelta(from, to float64) float64 {
	delta := to - from
	for delta > 180 {
		delta -= 360
	}
	for delta < -180 {
		delta += 360
	}
	return delta
}
