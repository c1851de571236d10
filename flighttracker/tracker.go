// Package flighttracker runs a per-aircraft state machine over enriched
// Fixes, deriving takeoff/landing events and the Flight segments they
// bound.
package flighttracker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

// State is one of the three states an aircraft's flight tracker can be in.
type State int

const (
	Idle State = iota
	Airborne
	Coalescing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Airborne:
		return "airborne"
	case Coalescing:
		return "coalescing"
	default:
		return "unknown"
	}
}

// Thresholds holds the configurable takeoff/landing parameters; defaults
// match the specification's recommendation.
type Thresholds struct {
	TakeoffSpeedKnots   float64
	TakeoffAGLFeet      float64
	TakeoffDwell        time.Duration
	LandingSpeedKnots   float64
	LandingAGLFeet      float64
	LandingDwell        time.Duration
	CoalesceWindow      time.Duration
	StaleThreshold      time.Duration
}

// DefaultThresholds returns the spec's recommended defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TakeoffSpeedKnots: 35,
		TakeoffAGLFeet:    150,
		TakeoffDwell:      15 * time.Second,
		LandingSpeedKnots: 20,
		LandingAGLFeet:    100,
		LandingDwell:      30 * time.Second,
		CoalesceWindow:    120 * time.Second,
		StaleThreshold:    1800 * time.Second,
	}
}

// Reverser resolves a location id for a lat/lon, used to label takeoff
// and landing locations. Implementations must be best-effort: a failure
// leaves the location id null rather than blocking the tracker.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (locationID string, ok bool)
}

// FlightStore persists Flight creation/updates; the flight tracker is the
// sole writer.
type FlightStore interface {
	SaveFlight(ctx context.Context, f *domain.Flight) error
}

type aircraftTrack struct {
	mu    sync.Mutex
	state State

	flight *domain.Flight

	aboveThresholdSince time.Time
	belowThresholdSince time.Time
	coalesceDeadline    time.Time
	provisionalLanding  *domain.Fix
}

// Tracker runs the per-aircraft state machine described in spec §4.7.
type Tracker struct {
	thresholds Thresholds
	reverser   Reverser
	store      FlightStore

	mu     sync.Mutex
	tracks map[uuid.UUID]*aircraftTrack

	forceLandings atomic.Int64
}

// ForceLandings reports how many flights have been force-landed due to a
// stale-fix gap, safe to read concurrently with Process running across
// multiple aircraft.
func (t *Tracker) ForceLandings() int64 { return t.forceLandings.Load() }

// NewTracker builds a tracker with the given thresholds, reverse
// geocoder and flight store.
func NewTracker(thresholds Thresholds, reverser Reverser, store FlightStore) *Tracker {
	return &Tracker{
		thresholds: thresholds,
		reverser:   reverser,
		store:      store,
		tracks:     make(map[uuid.UUID]*aircraftTrack),
	}
}

func (t *Tracker) trackFor(aircraftID uuid.UUID) *aircraftTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[aircraftID]
	if !ok {
		tr = &aircraftTrack{state: Idle}
		t.tracks[aircraftID] = tr
	}
	return tr
}

// Process evaluates one enriched fix for its aircraft and labels it with
// Active/FlightID according to the current state-machine transition. It
// mutates and returns the fix.
func (t *Tracker) Process(ctx context.Context, fix domain.Fix) domain.Fix {
	tr := t.trackFor(fix.AircraftID)
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if fix.TimeGapSeconds != nil && *fix.TimeGapSeconds > t.thresholds.StaleThreshold.Seconds() && tr.state == Airborne {
		t.forceLanding(ctx, tr, fix)
	}

	above := fix.GroundSpeedKnots != nil && *fix.GroundSpeedKnots >= t.thresholds.TakeoffSpeedKnots &&
		fix.AltitudeAGLValid && fix.AltitudeAGLFeet != nil && *fix.AltitudeAGLFeet >= t.thresholds.TakeoffAGLFeet
	below := fix.GroundSpeedKnots != nil && *fix.GroundSpeedKnots < t.thresholds.LandingSpeedKnots &&
		fix.AltitudeAGLValid && fix.AltitudeAGLFeet != nil && *fix.AltitudeAGLFeet <= t.thresholds.LandingAGLFeet

	switch tr.state {
	case Idle:
		if above {
			if tr.aboveThresholdSince.IsZero() {
				tr.aboveThresholdSince = fix.Timestamp
			}
			if fix.Timestamp.Sub(tr.aboveThresholdSince) >= t.thresholds.TakeoffDwell {
				t.takeoff(ctx, tr, fix)
			}
		} else {
			tr.aboveThresholdSince = time.Time{}
		}
	case Airborne:
		if below {
			if tr.belowThresholdSince.IsZero() {
				tr.belowThresholdSince = fix.Timestamp
			}
			if fix.Timestamp.Sub(tr.belowThresholdSince) >= t.thresholds.LandingDwell {
				t.enterCoalescing(tr, fix)
			}
		} else {
			tr.belowThresholdSince = time.Time{}
		}
	case Coalescing:
		if above {
			// touch-and-go: discard the provisional landing
			tr.state = Airborne
			tr.provisionalLanding = nil
			tr.belowThresholdSince = time.Time{}
			tr.aboveThresholdSince = fix.Timestamp
		} else if fix.Timestamp.After(tr.coalesceDeadline) {
			t.land(ctx, tr, *tr.provisionalLanding)
		}
	}

	if tr.flight != nil && tr.flight.InProgress {
		fix.FlightID = &tr.flight.ID
		fix.Active = true
	}
	return fix
}

func (t *Tracker) takeoff(ctx context.Context, tr *aircraftTrack, fix domain.Fix) {
	flight := &domain.Flight{
		ID:         uuid.New(),
		AircraftID: fix.AircraftID,
		InProgress: true,
	}
	takeoffTime := fix.Timestamp
	flight.TakeoffTime = &takeoffTime
	if loc, ok := t.reverseGeocode(ctx, fix); ok {
		flight.TakeoffLocationID = &loc
	}
	tr.flight = flight
	tr.state = Airborne
	tr.aboveThresholdSince = time.Time{}
	t.save(ctx, flight)
}

func (t *Tracker) enterCoalescing(tr *aircraftTrack, fix domain.Fix) {
	tr.state = Coalescing
	f := fix
	tr.provisionalLanding = &f
	tr.coalesceDeadline = fix.Timestamp.Add(t.thresholds.CoalesceWindow)
}

func (t *Tracker) land(ctx context.Context, tr *aircraftTrack, landingFix domain.Fix) {
	if tr.flight == nil {
		tr.state = Idle
		return
	}
	landingTime := landingFix.Timestamp
	tr.flight.LandingTime = &landingTime
	tr.flight.InProgress = false
	if loc, ok := t.reverseGeocode(ctx, landingFix); ok {
		tr.flight.LandingLocationID = &loc
	}
	t.save(ctx, tr.flight)
	tr.flight = nil
	tr.state = Idle
	tr.provisionalLanding = nil
	tr.belowThresholdSince = time.Time{}
}

func (t *Tracker) forceLanding(ctx context.Context, tr *aircraftTrack, lastGoodFix domain.Fix) {
	if tr.flight == nil {
		return
	}
	log.Printf("flight_force_landed aircraft=%s flight=%s gap=%v", lastGoodFix.AircraftID, tr.flight.ID, lastGoodFix.TimeGapSeconds)
	t.forceLandings.Add(1)
	t.land(ctx, tr, lastGoodFix)
}

func (t *Tracker) reverseGeocode(ctx context.Context, fix domain.Fix) (string, bool) {
	if t.reverser == nil {
		return "", false
	}
	loc, ok := t.reverser.Reverse(ctx, fix.Latitude, fix.Longitude)
	return loc, ok
}

func (t *Tracker) save(ctx context.Context, f *domain.Flight) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveFlight(ctx, f); err != nil {
		log.Printf("flight_save_error flight=%s err=%q", f.ID, err)
	}
}
