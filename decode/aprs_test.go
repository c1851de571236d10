package decode

import (
	"testing"
	"time"

	"github.com/hut8/soar/domain"
)

func TestAPRSDecodePosition(t *testing.T) {
	receivedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		line       string
		wantOK     bool
		wantKind   domain.DecodedKind
		wantAddr   string
		wantType   domain.AddressType
		wantStealth bool
	}{
		{
			name:     "flarm position",
			line:     `FLR395F39>APRS,qAS,OXFORD:/120000h5145.94N/00111.51W'057/057/A=000407 !W02! id06395F39`,
			wantOK:   true,
			wantKind: domain.KindPosition,
			wantAddr: "395F39",
			wantType: domain.AddressFlarm,
		},
		{
			name:     "icao position",
			line:     `ICADD4B12>APRS,qAS,OXFORD:/120001h5146.20N/00111.67W'124/099/A=000478 !W25! id05DD4B12`,
			wantOK:   true,
			wantKind: domain.KindPosition,
			wantAddr: "DD4B12",
			wantType: domain.AddressICAO,
		},
		{
			name:   "missing optional fields still decodes",
			line:   `FLR395F40>APRS,qAS,OXFORD:/120002h5145.53N/00111.00W' !W02!`,
			wantOK: true,
			wantKind: domain.KindOther,
		},
		{
			name:   "invalid message dropped",
			line:   `INVALID>MESSAGE`,
			wantOK: false,
		},
		{
			name:   "ground station beacon ignored",
			line:   `OXFORD>APRS,TCPIP*,qAC,GLIDERN1:/120005h5146.00N/00112.00W'`,
			wantOK: false,
		},
		{
			name:   "server comment ignored",
			line:   `# aprsc 2.1.19-gdd72 24 Jul 2026 12:00:00 GMT GLIDERN1 1.2.3.4:14580`,
			wantOK: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewAPRSDecoder()
			msg, ok := d.Decode(tc.line, receivedAt)
			if ok != tc.wantOK {
				t.Fatalf("Decode() ok = %v, want %v", ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if msg.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", msg.Kind, tc.wantKind)
			}
			if tc.wantAddr != "" && msg.Address != tc.wantAddr {
				t.Errorf("Address = %q, want %q", msg.Address, tc.wantAddr)
			}
			if tc.wantType != "" && msg.AddressType != tc.wantType {
				t.Errorf("AddressType = %v, want %v", msg.AddressType, tc.wantType)
			}
			if msg.Stealth != tc.wantStealth {
				t.Errorf("Stealth = %v, want %v", msg.Stealth, tc.wantStealth)
			}
		})
	}
}

func TestAPRSDecodePositionFields(t *testing.T) {
	receivedAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	d := NewAPRSDecoder()
	msg, ok := d.Decode(`FLR395F39>APRS,qAS,OXFORD:/120000h5145.94N/00111.51W'057/057/A=000407 !W02! id06395F39`, receivedAt)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if msg.AltitudeMSL == nil || *msg.AltitudeMSL != 407 {
		t.Errorf("AltitudeMSL = %v, want 407", msg.AltitudeMSL)
	}
	if msg.GroundSpeed == nil || *msg.GroundSpeed != 57 {
		t.Errorf("GroundSpeed = %v, want 57", msg.GroundSpeed)
	}
	if msg.Track == nil || *msg.Track != 57 {
		t.Errorf("Track = %v, want 57", msg.Track)
	}
	wantLat := 51 + 45.94/60
	if diff := msg.Latitude - wantLat; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Latitude = %v, want %v", msg.Latitude, wantLat)
	}
	wantLon := -(1 + 11.51/60)
	if diff := msg.Longitude - wantLon; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Longitude = %v, want %v", msg.Longitude, wantLon)
	}
}

func TestAPRSStealthBit(t *testing.T) {
	receivedAt := time.Now()
	d := NewAPRSDecoder()
	// flags byte 0x86 = 1000 0110: stealth bit (0x80) set, address type 2 (flarm).
	msg, ok := d.Decode(`FLR395F39>APRS,qAS,OXFORD:/120000h5145.94N/00111.51W'057/057/A=000407 !W02! id86395F39`, receivedAt)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if !msg.Stealth {
		t.Error("expected stealth bit to be set")
	}
}
