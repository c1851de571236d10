// Package decode turns raw wire frames from both upstreams into
// domain.DecodedMessage records. The APRS decoder handles OGN-flavored
// text lines; the Beast decoder (beast.go) handles Mode-S binary frames.
package decode

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hut8/soar/domain"
)

// aprsAddressTypes maps the low two bits of the OGN "id" flags byte (the
// two hex digits after "id") to an address type. In the same byte, 0x80 is
// the stealth bit and 0x40 is no-tracking.
var aprsAddressTypes = map[int]domain.AddressType{
	0: domain.AddressUnknown,
	1: domain.AddressICAO,
	2: domain.AddressFlarm,
	3: domain.AddressOGN,
}

// APRSDecoder parses line-delimited OGN APRS-IS text frames.
type APRSDecoder struct {
	ParseErrors int64
}

// NewAPRSDecoder returns a ready-to-use APRS decoder.
func NewAPRSDecoder() *APRSDecoder { return &APRSDecoder{} }

// Decode parses one APRS-IS line received at receivedAt. It returns
// ok=false for empty lines, server comments, ground-station (qAC) lines and
// malformed lines; only the malformed ones are counted in ParseErrors, and
// none is returned as an error since malformed frames are data-quality, not
// transport, failures. Well-formed non-position traffic is returned with
// ok=true as KindOther.
func (d *APRSDecoder) Decode(line string, receivedAt time.Time) (domain.DecodedMessage, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return domain.DecodedMessage{}, false
	}
	if strings.HasPrefix(line, "#") {
		return domain.DecodedMessage{}, false
	}

	src, rest, ok := strings.Cut(line, ">")
	if !ok {
		d.ParseErrors++
		return domain.DecodedMessage{}, false
	}

	path, body, ok := strings.Cut(rest, ":")
	if !ok {
		d.ParseErrors++
		return domain.DecodedMessage{}, false
	}

	// Ground station beacons carry qAC in the path and should never reach
	// the identity resolver as aircraft.
	if strings.Contains(path, "qAC") {
		return domain.DecodedMessage{}, false
	}

	if len(body) == 0 {
		d.ParseErrors++
		return domain.DecodedMessage{}, false
	}

	switch body[0] {
	case '!', '=', '/', '@':
		msg, ok := parsePosition(body, receivedAt)
		if !ok {
			d.ParseErrors++
			return domain.DecodedMessage{}, false
		}
		msg.Callsign = src
		msg.Source = domain.SourceAPRS
		msg.ReceivedAt = receivedAt
		if msg.Timestamp.IsZero() {
			msg.Timestamp = receivedAt
		}
		return msg, true
	default:
		// Status, weather, objects, Mic-E and anything else the router
		// doesn't need position fields for.
		return domain.DecodedMessage{
			Kind:       domain.KindOther,
			Source:     domain.SourceAPRS,
			ReceivedAt: receivedAt,
			Timestamp:  receivedAt,
			Callsign:   src,
		}, true
	}
}

// parsePosition parses the APRS position-report body:
//
//	/HHMMSSh+DDMM.MMx/DDDMM.MMxTTTT/SSS/A=AAAAAA !WPP! idXXXXXXXX
func parsePosition(body string, receivedAt time.Time) (domain.DecodedMessage, bool) {
	if len(body) < 1+7+9 {
		return domain.DecodedMessage{}, false
	}
	rest := body[1:] // drop the data-type indicator

	var ts time.Time
	if len(rest) >= 7 && rest[6] == 'h' {
		ts = parseHMS(rest[:6], receivedAt)
		rest = rest[7:]
	}

	if len(rest) < 19 {
		return domain.DecodedMessage{}, false
	}

	lat, ok := parseLat(rest[0:8])
	if !ok {
		return domain.DecodedMessage{}, false
	}
	// rest[8] is the symbol table identifier
	lon, ok := parseLon(rest[9:18])
	if !ok {
		return domain.DecodedMessage{}, false
	}
	// rest[18] is the symbol code
	tail := rest[19:]

	msg := domain.DecodedMessage{
		Kind:        domain.KindPosition,
		Timestamp:   ts,
		Latitude:    lat,
		Longitude:   lon,
		HasPosition: true,
		AddressType: domain.AddressUnknown,
	}

	if len(tail) >= 7 && tail[3] == '/' {
		if course, err := strconv.Atoi(tail[0:3]); err == nil {
			c := float64(course)
			msg.Track = &c
		}
		if speed, err := strconv.Atoi(tail[4:7]); err == nil {
			s := float64(speed)
			msg.GroundSpeed = &s
		}
		tail = tail[7:]
	}

	tail = strings.TrimPrefix(tail, " ")
	if idx := strings.Index(tail, "/A="); idx >= 0 && idx+9 <= len(tail) {
		if alt, err := strconv.Atoi(tail[idx+3 : idx+9]); err == nil {
			a := float64(alt)
			msg.AltitudeMSL = &a
		}
		tail = tail[idx+9:]
	}

	parseOGNComment(tail, &msg)
	if msg.Address == "" {
		// No "id" flag: position-only beacon (e.g. a receiver's own
		// position). Still useful to the router as "other".
		msg.Kind = domain.KindOther
	}
	return msg, true
}

func parseHMS(s string, receivedAt time.Time) time.Time {
	hh, e1 := strconv.Atoi(s[0:2])
	mm, e2 := strconv.Atoi(s[2:4])
	ss, e3 := strconv.Atoi(s[4:6])
	if e1 != nil || e2 != nil || e3 != nil {
		return receivedAt
	}
	t := time.Date(receivedAt.Year(), receivedAt.Month(), receivedAt.Day(), hh, mm, ss, 0, time.UTC)
	// The message may have been authored just before midnight UTC but
	// received just after; prefer the interpretation closest to receivedAt.
	if t.Sub(receivedAt) > 12*time.Hour {
		t = t.AddDate(0, 0, -1)
	} else if receivedAt.Sub(t) > 12*time.Hour {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// parseLat parses "DDMM.MMx" (8 chars).
func parseLat(s string) (float64, bool) {
	if len(s) != 8 {
		return 0, false
	}
	deg, e1 := strconv.Atoi(s[0:2])
	min, e2 := strconv.ParseFloat(s[2:7], 64)
	if e1 != nil || e2 != nil {
		return 0, false
	}
	v := float64(deg) + min/60
	switch s[7] {
	case 'S':
		return -v, true
	case 'N':
		return v, true
	default:
		return 0, false
	}
}

// parseLon parses "DDDMM.MMx" (9 chars).
func parseLon(s string) (float64, bool) {
	if len(s) != 9 {
		return 0, false
	}
	deg, e1 := strconv.Atoi(s[0:3])
	min, e2 := strconv.ParseFloat(s[3:8], 64)
	if e1 != nil || e2 != nil {
		return 0, false
	}
	v := float64(deg) + min/60
	switch s[8] {
	case 'W':
		return -v, true
	case 'E':
		return v, true
	default:
		return 0, false
	}
}

// parseOGNComment scans the free-form comment tail for the OGN "id" flag
// and the climb/turn/signal key-value extensions, e.g.:
//
//	!W02! id06395F39 +120fpm +1.4rot 5.0dB 0e -4.4kHz
func parseOGNComment(tail string, msg *domain.DecodedMessage) {
	fields := strings.Fields(tail)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "id") && len(f) == 10:
			flagsByte, err := strconv.ParseUint(f[2:4], 16, 8)
			if err != nil {
				continue
			}
			msg.Address = strings.ToUpper(f[4:10])
			msg.Stealth = flagsByte&0x80 != 0
			msg.NoTrack = flagsByte&0x40 != 0
			msg.AddressType = aprsAddressTypes[int(flagsByte&0x03)]
		case strings.HasSuffix(f, "fpm"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(f, "fpm"), 64); err == nil {
				msg.ClimbFPM = &v
			}
		case strings.HasSuffix(f, "rot"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(f, "rot"), 64); err == nil {
				msg.TurnRate = &v
			}
		}
	}
}

func init() {
	// sanity format check performed once at package init so a malformed
	// constant table fails fast during development.
	if len(aprsAddressTypes) != 4 {
		panic(fmt.Sprintf("aprs: unexpected address type table size %d", len(aprsAddressTypes)))
	}
}
