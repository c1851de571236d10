package livefanout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

func worldBounds() domain.Bounds {
	return domain.Bounds{North: 90, South: -90, East: 180, West: -180}
}

func TestClusterIndexUpdateAndRemove(t *testing.T) {
	ci := NewClusterIndex()
	id := uuid.New()
	fix := domain.Fix{AircraftID: id, Latitude: 47.4, Longitude: 8.5}

	ci.Update(fix)
	snap := ci.Snapshot(worldBounds())
	if snap.Clustered || len(snap.Aircraft) != 1 {
		t.Fatalf("expected one individual aircraft, got %+v", snap)
	}

	ci.Remove(id.String())
	snap = ci.Snapshot(worldBounds())
	if len(snap.Aircraft) != 0 {
		t.Fatalf("expected empty snapshot after remove, got %+v", snap)
	}
}

func TestClusterIndexMoveUpdatesPosition(t *testing.T) {
	ci := NewClusterIndex()
	id := uuid.New()

	ci.Update(domain.Fix{AircraftID: id, Latitude: 47.4, Longitude: 8.5})
	ci.Update(domain.Fix{AircraftID: id, Latitude: -10.0, Longitude: 100.0})

	snap := ci.Snapshot(worldBounds())
	if len(snap.Aircraft) != 1 {
		t.Fatalf("expected exactly one aircraft after moving, got %+v", snap)
	}
	if snap.Aircraft[0].Lat != -10.0 || snap.Aircraft[0].Lon != 100.0 {
		t.Fatalf("expected latest position to win, got %+v", snap.Aircraft[0])
	}
}

func TestClusterIndexSnapshotFiltersByBounds(t *testing.T) {
	ci := NewClusterIndex()
	ci.Update(domain.Fix{AircraftID: uuid.New(), Latitude: 47.4, Longitude: 8.5})
	ci.Update(domain.Fix{AircraftID: uuid.New(), Latitude: -30, Longitude: -60})

	snap := ci.Snapshot(domain.Bounds{North: 60, South: 30, East: 20, West: 0})
	if snap.Clustered || len(snap.Aircraft) != 1 {
		t.Fatalf("expected only the aircraft inside bounds, got %+v", snap)
	}
}

func TestClusterIndexSwitchesToClusteredAboveThreshold(t *testing.T) {
	ci := NewClusterIndex()
	for i := 0; i < ClusterThreshold+1; i++ {
		ci.Update(domain.Fix{AircraftID: uuid.New(), Latitude: 47.4, Longitude: 8.5})
	}

	snap := ci.Snapshot(worldBounds())
	if !snap.Clustered {
		t.Fatalf("expected clustered response once count exceeds threshold, got %+v", snap)
	}
	if len(snap.Clusters) != 1 {
		t.Fatalf("expected a single cluster for colocated aircraft, got %+v", snap.Clusters)
	}
	c := snap.Clusters[0]
	if c.Count != ClusterThreshold+1 {
		t.Errorf("cluster count = %d, want %d", c.Count, ClusterThreshold+1)
	}
	if c.Bounds.North <= c.Bounds.South || c.Bounds.East <= c.Bounds.West {
		t.Errorf("expected a non-degenerate cluster bound, got %+v", c.Bounds)
	}
}

func TestResolutionForBoundsShrinksWithArea(t *testing.T) {
	world := resolutionForBounds(worldBounds())
	city := resolutionForBounds(domain.Bounds{North: 47.5, South: 47.3, East: 8.6, West: 8.4})
	if world >= city {
		t.Fatalf("expected a coarser resolution for a world viewport than a city one, got world=%d city=%d", world, city)
	}
	if world < minClusterResolution || city > maxClusterResolution {
		t.Fatalf("resolution out of bounds: world=%d city=%d", world, city)
	}
}
