package livefanout

import (
	"testing"

	"github.com/hut8/soar/domain"
)

func TestTilesForBoundsSimpleBox(t *testing.T) {
	b := domain.Bounds{North: 2, South: 0, East: 2, West: 0}
	keys := tilesForBounds(b)
	if len(keys) != 9 {
		t.Fatalf("expected 3x3=9 tiles, got %d", len(keys))
	}
}

func TestTilesForBoundsAntimeridian(t *testing.T) {
	b := domain.Bounds{North: 1, South: 0, East: -179, West: 179}
	keys := tilesForBounds(b)
	if len(keys) == 0 {
		t.Fatal("expected antimeridian-spanning bounds to produce tiles")
	}
	for _, k := range keys {
		if k[1] < -180 || k[1] > 180 {
			t.Fatalf("tile longitude out of range: %v", k)
		}
	}
}

func TestHubPublishRespectsSubscriptionBounds(t *testing.T) {
	h := NewHub()
	c := &client{id: "test", outbox: make(chan domain.Fix, 4)}
	h.subscribe(c, domain.Bounds{North: 48, South: 47, East: 9, West: 8})

	h.Publish(domain.Fix{Latitude: 47.5, Longitude: 8.5})
	select {
	case <-c.outbox:
	default:
		t.Fatal("expected fix inside subscribed bounds to be delivered")
	}

	h.Publish(domain.Fix{Latitude: -10, Longitude: 100})
	select {
	case <-c.outbox:
		t.Fatal("did not expect fix outside subscribed bounds to be delivered")
	default:
	}
}

func TestHubPublishDropsWhenOutboxFull(t *testing.T) {
	h := NewHub()
	c := &client{id: "test", outbox: make(chan domain.Fix, 1)}
	h.subscribe(c, domain.Bounds{North: 90, South: -90, East: 180, West: -180})

	h.Publish(domain.Fix{Latitude: 1, Longitude: 1})
	h.Publish(domain.Fix{Latitude: 1, Longitude: 1})

	if h.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", h.Dropped)
	}
	if c.Dropped != 1 {
		t.Errorf("client Dropped = %d, want 1", c.Dropped)
	}
}

func TestHubDisconnectsClientAfterConsecutiveDrops(t *testing.T) {
	h := NewHub()
	c := &client{id: "test", outbox: make(chan domain.Fix, 1), close: make(chan struct{})}
	h.subscribe(c, domain.Bounds{North: 90, South: -90, East: 180, West: -180})

	// fill the outbox once so every subsequent publish drops
	h.Publish(domain.Fix{Latitude: 1, Longitude: 1})
	for i := 0; i < maxConsecutiveDrops; i++ {
		h.Publish(domain.Fix{Latitude: 1, Longitude: 1})
	}

	select {
	case <-c.close:
	default:
		t.Fatalf("expected client to be disconnected after %d consecutive drops, got %d", maxConsecutiveDrops, c.consecutiveDrops)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	c := &client{id: "test", outbox: make(chan domain.Fix, 4)}
	h.subscribe(c, domain.Bounds{North: 90, South: -90, East: 180, West: -180})
	h.unsubscribe(c)

	h.Publish(domain.Fix{Latitude: 1, Longitude: 1})
	select {
	case <-c.outbox:
		t.Fatal("did not expect delivery after unsubscribe")
	default:
	}
}
