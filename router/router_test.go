package router

import (
	"testing"

	"github.com/hut8/soar/domain"
)

func TestRouteDispatchesPositionToAircraft(t *testing.T) {
	aircraft := make(chan domain.DecodedMessage, 1)
	receivers := make(chan domain.ReceiverBeacon, 1)
	r := NewRouter(aircraft, receivers)

	r.Route(domain.DecodedMessage{Kind: domain.KindPosition, Address: "395F39"})

	select {
	case msg := <-aircraft:
		if msg.Address != "395F39" {
			t.Errorf("Address = %q, want 395F39", msg.Address)
		}
	default:
		t.Fatal("expected a message on the aircraft channel")
	}
}

func TestRouteDropsNonAircraftTraffic(t *testing.T) {
	aircraft := make(chan domain.DecodedMessage, 1)
	receivers := make(chan domain.ReceiverBeacon, 1)
	r := NewRouter(aircraft, receivers)

	r.Route(domain.DecodedMessage{Kind: domain.KindWeather})
	r.Route(domain.DecodedMessage{Kind: domain.KindOther})

	select {
	case <-aircraft:
		t.Fatal("weather/other traffic should not reach the aircraft channel")
	default:
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	aircraft := make(chan domain.DecodedMessage, 2)
	receivers := make(chan domain.ReceiverBeacon, 2)
	r := NewRouter(aircraft, receivers)

	msg := domain.DecodedMessage{Kind: domain.KindPosition, Address: "ABCDEF"}
	r.Route(msg)
	r.Route(msg)

	if len(aircraft) != 2 {
		t.Fatalf("expected both identical messages routed identically, got %d queued", len(aircraft))
	}
}

func TestRoutePositionWithoutAddressDropped(t *testing.T) {
	aircraft := make(chan domain.DecodedMessage, 1)
	r := NewRouter(aircraft, nil)
	r.Route(domain.DecodedMessage{Kind: domain.KindPosition})
	if r.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", r.Dropped)
	}
}
