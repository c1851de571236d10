package livefanout

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/hut8/soar/domain"
	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

// ClusterThreshold is the viewport aircraft count above which the snapshot
// endpoint switches from individual aircraft to H3-grid cluster summaries.
const ClusterThreshold = 50

// minClusterResolution/maxClusterResolution bound the H3 resolution chosen
// for a clustered snapshot, coarsest to finest.
const (
	minClusterResolution = 3
	maxClusterResolution = 8
)

// aircraftPosition is the last known location of one aircraft, keyed by
// AircraftID.String().
type aircraftPosition struct {
	aircraftID string
	lat, lon   float64
}

// aircraftSummary is one row of the individual-aircraft snapshot response.
type aircraftSummary struct {
	AircraftID string  `json:"aircraft_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// latLon is a plain coordinate pair, used for cluster centroids.
type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// cluster is one aggregated H3 cell in a clustered snapshot response.
type cluster struct {
	ID       string        `json:"id"`
	Bounds   domain.Bounds `json:"bounds"`
	Count    int           `json:"count"`
	Centroid latLon        `json:"centroid"`
}

// snapshotResponse is the REST cluster-snapshot payload. Clustered is false
// (with Aircraft populated) while the viewport holds at most
// ClusterThreshold aircraft; past that, Clusters is populated instead and
// the web client is expected to poll on a timer rather than subscribe.
type snapshotResponse struct {
	Clustered bool              `json:"clustered"`
	Aircraft  []aircraftSummary `json:"aircraft,omitempty"`
	Clusters  []cluster         `json:"clusters,omitempty"`
}

// ClusterIndex tracks each aircraft's last known position so the cluster
// snapshot endpoint can render individual aircraft in a sparse viewport or
// fold them into H3-grid clusters once there are too many to draw one by
// one.
type ClusterIndex struct {
	mu        sync.RWMutex
	positions map[string]aircraftPosition
}

// NewClusterIndex returns an empty cluster index.
func NewClusterIndex() *ClusterIndex {
	return &ClusterIndex{positions: make(map[string]aircraftPosition)}
}

// Update records fix as the aircraft's latest position.
func (ci *ClusterIndex) Update(fix domain.Fix) {
	key := fix.AircraftID.String()
	ci.mu.Lock()
	defer ci.mu.Unlock()
	ci.positions[key] = aircraftPosition{aircraftID: key, lat: fix.Latitude, lon: fix.Longitude}
}

// Remove drops an aircraft from the index, e.g. once its fix goes stale.
func (ci *ClusterIndex) Remove(aircraftID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	delete(ci.positions, aircraftID)
}

// Snapshot returns the viewport response: individual aircraft positions
// while the viewport is sparse, or H3-grid clusters once the in-view count
// exceeds ClusterThreshold.
func (ci *ClusterIndex) Snapshot(bounds domain.Bounds) snapshotResponse {
	ci.mu.RLock()
	inView := make([]aircraftPosition, 0, len(ci.positions))
	for _, p := range ci.positions {
		if bounds.Contains(p.lat, p.lon) {
			inView = append(inView, p)
		}
	}
	ci.mu.RUnlock()

	if len(inView) <= ClusterThreshold {
		aircraft := make([]aircraftSummary, 0, len(inView))
		for _, p := range inView {
			aircraft = append(aircraft, aircraftSummary{AircraftID: p.aircraftID, Lat: p.lat, Lon: p.lon})
		}
		return snapshotResponse{Clustered: false, Aircraft: aircraft}
	}

	res := resolutionForBounds(bounds)
	byCell := make(map[h3.Cell]int, len(inView)/4+1)
	for _, p := range inView {
		cell := h3.LatLngToCell(h3.NewLatLng(p.lat, p.lon), res)
		byCell[cell]++
	}

	clusters := make([]cluster, 0, len(byCell))
	for cell, n := range byCell {
		ll := cell.LatLng()
		clusters = append(clusters, cluster{
			ID:       cell.String(),
			Bounds:   cellBounds(cell),
			Count:    n,
			Centroid: latLon{Lat: ll.Lat, Lon: ll.Lng},
		})
	}
	return snapshotResponse{Clustered: true, Clusters: clusters}
}

// resolutionForBounds picks an H3 resolution inversely proportional to
// viewport area: coarse cells for a world view, fine cells once the client
// has panned or zoomed into a single region. The live fan-out's 1-degree
// tile index stays fixed regardless, since it only needs cheap dispatch,
// not a readable bucket size.
func resolutionForBounds(b domain.Bounds) int {
	latSpan := b.North - b.South
	lonSpan := b.East - b.West
	if lonSpan < 0 {
		lonSpan += 360
	}
	area := latSpan * lonSpan

	switch {
	case area > 900:
		return minClusterResolution
	case area > 400:
		return 4
	case area > 100:
		return 5
	case area > 25:
		return 6
	case area > 4:
		return 7
	default:
		return maxClusterResolution
	}
}

// cellBounds computes the bounding box of cell's boundary vertices using
// orb's Bound accumulation, so a client can draw the cluster's cell outline
// instead of just its centroid.
func cellBounds(cell h3.Cell) domain.Bounds {
	boundary := cell.Boundary()
	var bound orb.Bound
	first := true
	for _, v := range boundary {
		p := orb.Point{v.Lng, v.Lat}
		if first {
			bound = orb.Bound{Min: p, Max: p}
			first = false
			continue
		}
		bound = bound.Extend(p)
	}
	return domain.Bounds{North: bound.Max[1], South: bound.Min[1], East: bound.Max[0], West: bound.Min[0]}
}

// ServeSnapshot is the HTTP handler for the cluster snapshot endpoint. It
// expects north/south/east/west query params describing the viewport.
func (ci *ClusterIndex) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	b, ok := parseBoundsQuery(r)
	if !ok {
		http.Error(w, "invalid or missing bounds", http.StatusBadRequest)
		return
	}
	snap := ci.Snapshot(b)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func parseBoundsQuery(r *http.Request) (domain.Bounds, bool) {
	q := r.URL.Query()
	parse := func(name string) (float64, bool) {
		v := q.Get(name)
		if v == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	n, ok1 := parse("north")
	s, ok2 := parse("south")
	e, ok3 := parse("east")
	w, ok4 := parse("west")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.Bounds{}, false
	}
	return domain.Bounds{North: n, South: s, East: e, West: w}, true
}
