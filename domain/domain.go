// Package domain holds the shared entities passed between pipeline stages:
// raw wire frames, aircraft identity, receivers, position fixes and flights.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which upstream feed produced a RawMessage or Fix.
type Source string

const (
	SourceAPRS  Source = "aprs"
	SourceBeast Source = "beast"
)

// AddressType classifies the namespace a tracker address belongs to.
type AddressType string

const (
	AddressICAO  AddressType = "icao"
	AddressFlarm AddressType = "flarm"
	AddressOGN   AddressType = "ogn"
	AddressICAO2 AddressType = "icao2"
	AddressUnknown AddressType = "unknown"
)

// RawMessage is an immutable record of one wire frame, owned by the decoder
// stage until decoded, then persisted append-only.
type RawMessage struct {
	ID         uuid.UUID
	Source     Source
	ReceivedAt time.Time
	Payload    []byte
	ReceiverID *uuid.UUID
}

// Aircraft is a long-lived identity keyed by (Address, AddressType).
type Aircraft struct {
	ID                uuid.UUID
	Address           string
	AddressType       AddressType
	AddressCountry    *string
	Registration      *string
	AircraftModel     *string
	TrackerDeviceType *string
	AircraftTypeOGN   *string
	Tracked           bool
	Identified        bool
	FromOGNDDB        bool
	ClubID            *uuid.UUID
	CurrentFix        *Fix
	LastFixAt         *time.Time
}

// Receiver is a ground station that forwards frames to the ingester.
type Receiver struct {
	ID          uuid.UUID
	Callsign    string
	Latitude    *float64
	Longitude   *float64
	Description *string
	FirstHeard  time.Time
	LastHeard   time.Time
}

// Fix is the canonical position record. Written once, never mutated.
type Fix struct {
	ID               uuid.UUID
	AircraftID       uuid.UUID
	RawMessageID     uuid.UUID
	ReceiverID       *uuid.UUID
	Source           Source
	Timestamp        time.Time
	ReceivedAt       time.Time
	Latitude         float64
	Longitude        float64
	AltitudeMSLFeet  *float64
	AltitudeAGLFeet  *float64
	AltitudeAGLValid bool
	GroundSpeedKnots *float64
	TrackDegrees     *float64
	ClimbFPM         *float64
	TurnRateROT      *float64
	FlightID         *uuid.UUID
	Active           bool
	TimeGapSeconds   *float64
}

// Flight is a derived segment bounded by a takeoff event and a landing event.
type Flight struct {
	ID                uuid.UUID
	AircraftID        uuid.UUID
	TakeoffTime       *time.Time
	TakeoffLocationID *string
	LandingTime       *time.Time
	LandingLocationID *string
	InProgress        bool
}

// Bounds is a north/south/east/west viewport rectangle.
type Bounds struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Contains reports whether (lat, lon) falls within b, handling antimeridian
// crossing when West > East.
func (b Bounds) Contains(lat, lon float64) bool {
	if lat > b.North || lat < b.South {
		return false
	}
	if b.West <= b.East {
		return lon >= b.West && lon <= b.East
	}
	return lon >= b.West || lon <= b.East
}

// AreaSubscription is a transient per-WebSocket subscription to a bounds box.
type AreaSubscription struct {
	ClientID string
	Bounds   Bounds
}

// DecodedKind is the closed set of message kinds the router dispatches on.
type DecodedKind string

const (
	KindPosition DecodedKind = "position"
	KindStatus   DecodedKind = "status"
	KindWeather  DecodedKind = "weather"
	KindServer   DecodedKind = "server"
	KindOther    DecodedKind = "other"
)

// DecodedMessage is the tagged-variant output of a decoder, consumed by the
// router and then the identity resolver.
type DecodedMessage struct {
	Kind           DecodedKind
	Source         Source
	RawMessageID   uuid.UUID
	ReceivedAt     time.Time
	Timestamp      time.Time
	ReceiverID     *uuid.UUID
	Address        string
	AddressType    AddressType
	Stealth        bool
	NoTrack        bool
	Latitude       float64
	Longitude      float64
	HasPosition    bool
	AltitudeMSL    *float64
	GroundSpeed    *float64
	Track          *float64
	ClimbFPM       *float64
	TurnRate       *float64
	Callsign       string
	ReceiverBeacon *ReceiverBeacon
}

// ReceiverBeacon carries the receiver-table-relevant fields of a status
// message, kept on a side channel by the router.
type ReceiverBeacon struct {
	Callsign  string
	Latitude  *float64
	Longitude *float64
	Comment   string
}
