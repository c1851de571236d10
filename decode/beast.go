package decode

import (
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/hut8/soar/domain"
)

const (
	modeSLongMsgBits  = 112
	modeSShortMsgBits = 56
	modeSLongMsgBytes = modeSLongMsgBits / 8

	// icaoCacheTTL matches the upstream decoder's recently-seen-address
	// window used to brute-force the AP field on DF0/4/5/16/20/21/24.
	icaoCacheTTL = 60 * time.Second
)

// errBadCRC is not returned by any function in this package; frames whose
// checksum doesn't validate and can't be recovered are dropped by Decode
// and counted in CRCErrors.
var errBadCRC = errors.New("beast: bad crc")

// BeastDecoder demultiplexes Beast-framed Mode-S messages and tracks
// per-aircraft odd/even CPR halves to resolve positions.
type BeastDecoder struct {
	icaoCache   *gocache.Cache
	cprState    map[uint32]*cprPair
	velState    map[uint32]*velocity
	CRCErrors   int64
	ParseErrors int64
}

type cprPair struct {
	evenLat, evenLon int
	oddLat, oddLon   int
	evenAt, oddAt    time.Time
}

// velocity is the most recently decoded ground speed/track for an ICAO
// address, attached to the next airborne position fix since DF17 position
// and velocity subtypes arrive as separate messages.
type velocity struct {
	speed float64
	track *float64
	at    time.Time
}

// velocityMaxAge bounds how stale a cached velocity can be before it's no
// longer attached to a position fix.
const velocityMaxAge = 10 * time.Second

// NewBeastDecoder returns a ready-to-use Beast/Mode-S decoder.
func NewBeastDecoder() *BeastDecoder {
	return &BeastDecoder{
		icaoCache: gocache.New(icaoCacheTTL, 10*time.Second),
		cprState:  make(map[uint32]*cprPair),
		velState:  make(map[uint32]*velocity),
	}
}

// Decode parses one de-stuffed Beast payload (the Mode-S message bytes
// only, without the 0x1A/type/timestamp/signal header) into a
// domain.DecodedMessage. It returns ok=false for frames that fail CRC or
// are not position bearing (e.g. DF11 acquisition squitters). Velocity
// frames also return ok=false: their speed and track are cached and
// attached to the aircraft's next airborne position.
func (d *BeastDecoder) Decode(msg []byte, receivedAt time.Time) (domain.DecodedMessage, bool) {
	if len(msg) == 0 {
		d.ParseErrors++
		return domain.DecodedMessage{}, false
	}
	dfType := int(msg[0]) >> 3
	bits := modesMessageLenByType(dfType)
	need := bits / 8
	if len(msg) < need {
		d.ParseErrors++
		return domain.DecodedMessage{}, false
	}
	msg = msg[:need]

	addr, ok := d.checkCRC(msg, dfType, bits)
	if !ok {
		d.CRCErrors++
		return domain.DecodedMessage{}, false
	}

	out := domain.DecodedMessage{
		Source:      domain.SourceBeast,
		ReceivedAt:  receivedAt,
		Timestamp:   receivedAt,
		Address:     fmt.Sprintf("%06X", addr),
		AddressType: domain.AddressICAO,
		Kind:        domain.KindOther,
	}

	switch {
	case dfType == 17 || dfType == 18:
		metype := int(msg[4]) >> 3
		mesub := int(msg[4]) & 7
		switch {
		case metype >= 9 && metype <= 18:
			d.decodeAirbornePosition(addr, msg, receivedAt, &out)
		case metype == 19 && (mesub == 1 || mesub == 2):
			d.decodeVelocity(addr, msg, receivedAt)
			return domain.DecodedMessage{}, false
		default:
			return domain.DecodedMessage{}, false
		}
	default:
		return domain.DecodedMessage{}, false
	}

	return out, out.Kind == domain.KindPosition
}

func (d *BeastDecoder) checkCRC(msg []byte, dfType, bits int) (uint32, bool) {
	crc := (uint32(msg[len(msg)-3]) << 16) | (uint32(msg[len(msg)-2]) << 8) | uint32(msg[len(msg)-1])
	computed := modesChecksum(msg, bits)

	if dfType == 11 || dfType == 17 || dfType == 18 {
		if crc != computed {
			return 0, false
		}
		addr := (uint32(msg[1]) << 16) | (uint32(msg[2]) << 8) | uint32(msg[3])
		d.icaoCache.SetDefault(fmt.Sprint(addr), addr)
		return addr, true
	}

	// Other DF types XOR the CRC with the responder's ICAO address; brute
	// force it against recently-seen addresses.
	addr := crc ^ computed
	if _, found := d.icaoCache.Get(fmt.Sprint(addr)); !found {
		return 0, false
	}
	return addr, true
}

func (d *BeastDecoder) decodeAirbornePosition(addr uint32, msg []byte, receivedAt time.Time, out *domain.DecodedMessage) {
	alt, _ := decodeAC12Field(msg)
	if alt != 0 {
		a := float64(alt)
		out.AltitudeMSL = &a
	}

	fflag := int(msg[6]) & (1 << 2)
	rawLat := ((int(msg[6]) & 3) << 15) | (int(msg[7]) << 7) | (int(msg[8]) >> 1)
	rawLon := ((int(msg[8]) & 1) << 16) | (int(msg[9]) << 8) | int(msg[10])

	pair, ok := d.cprState[addr]
	if !ok {
		pair = &cprPair{}
		d.cprState[addr] = pair
	}
	if fflag != 0 {
		pair.oddLat, pair.oddLon = rawLat, rawLon
		pair.oddAt = receivedAt
	} else {
		pair.evenLat, pair.evenLon = rawLat, rawLon
		pair.evenAt = receivedAt
	}

	if pair.evenAt.IsZero() || pair.oddAt.IsZero() {
		out.Kind = domain.KindOther
		return
	}
	if absDuration(pair.evenAt.Sub(pair.oddAt)) > 10*time.Second {
		out.Kind = domain.KindOther
		return
	}

	lat, lon, ok := decodeCPR(pair)
	if !ok {
		out.Kind = domain.KindOther
		return
	}
	out.Kind = domain.KindPosition
	out.HasPosition = true
	out.Latitude = lat
	out.Longitude = lon

	if v, ok := d.velState[addr]; ok && receivedAt.Sub(v.at) <= velocityMaxAge {
		speed := v.speed
		out.GroundSpeed = &speed
		out.Track = v.track
	}
}

func (d *BeastDecoder) decodeVelocity(addr uint32, msg []byte, receivedAt time.Time) {
	ewDir := (int(msg[5]) & 4) >> 2
	ewVel := ((int(msg[5]) & 3) << 8) | int(msg[6])
	nsDir := (int(msg[7]) & 0x80) >> 7
	nsVel := ((int(msg[7]) & 0x7f) << 3) | ((int(msg[8]) & 0xe0) >> 5)

	ewv, nsv := float64(ewVel), float64(nsVel)
	if ewDir == 1 {
		ewv = -ewv
	}
	if nsDir == 1 {
		nsv = -nsv
	}
	v := &velocity{speed: hypot(ewv, nsv), at: receivedAt}
	if v.speed != 0 {
		heading := atan2Degrees(ewv, nsv)
		v.track = &heading
	}
	d.velState[addr] = v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// decodeAC12Field decodes the 12-bit altitude field used by DF17 airborne
// position messages (Q-bit coded, 25 ft resolution, -1000 ft offset).
func decodeAC12Field(msg []byte) (altitude int, ok bool) {
	qBit := msg[5] & 1
	if qBit == 0 {
		return 0, false
	}
	n := (int(msg[5]>>1) << 4) | int((msg[6]&0xF0)>>4)
	return n*25 - 1000, true
}

func modesMessageLenByType(msgType int) int {
	switch msgType {
	case 16, 17, 18, 19, 20, 21:
		return modeSLongMsgBits
	default:
		return modeSShortMsgBits
	}
}
