package elevation

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// SRTMSource reads elevation from local SRTM .hgt tile files (the format
// used by NASA's Shuttle Radar Topography Mission data, 1-arcsecond or
// 3-arcsecond grids of big-endian int16 samples, one file per whole
// degree of lat/lon named e.g. "N47E008.hgt").
type SRTMSource struct {
	dir string

	mu    sync.Mutex
	tiles map[string]*hgtTile
}

type hgtTile struct {
	samples []int16
	size    int // samples per side (1201 or 3601)
}

// NewSRTMSource returns a terrain source reading .hgt tiles from dir.
func NewSRTMSource(dir string) *SRTMSource {
	return &SRTMSource{dir: dir, tiles: make(map[string]*hgtTile)}
}

// Elevation implements Source. A cell holding the SRTM void value returns
// 0 ft per the sea-level contract; a missing or unreadable tile file (so
// any point outside the available tiles) returns ok=false.
func (s *SRTMSource) Elevation(_ context.Context, lat, lon float64) (float64, bool) {
	name := tileName(lat, lon)
	tile, err := s.load(name)
	if err != nil {
		return 0, false
	}

	latFrac := lat - math.Floor(lat)
	lonFrac := lon - math.Floor(lon)
	row := tile.size - 1 - int(latFrac*float64(tile.size-1))
	col := int(lonFrac * float64(tile.size-1))
	if row < 0 || row >= tile.size || col < 0 || col >= tile.size {
		return 0, false
	}

	raw := tile.samples[row*tile.size+col]
	if raw == -32768 { // SRTM void value
		return 0, true
	}
	return float64(raw) * 3.28084, true // meters to feet
}

func (s *SRTMSource) load(name string) (*hgtTile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tiles[name]; ok {
		return t, nil
	}

	path := filepath.Join(s.dir, name+".hgt")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var size int
	switch len(data) {
	case 1201 * 1201 * 2:
		size = 1201
	case 3601 * 3601 * 2:
		size = 3601
	default:
		return nil, fmt.Errorf("elevation: unexpected tile size %d bytes in %s", len(data), path)
	}

	samples := make([]int16, size*size)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(data[i*2 : i*2+2]))
	}
	tile := &hgtTile{samples: samples, size: size}
	s.tiles[name] = tile
	return tile, nil
}

// tileName builds the SRTM tile identifier (e.g. "N47E008") for the whole
// degree cell containing (lat, lon).
func tileName(lat, lon float64) string {
	latCell := int(math.Floor(lat))
	lonCell := int(math.Floor(lon))

	latHemi := "N"
	latAbs := latCell
	if latCell < 0 {
		latHemi = "S"
		latAbs = -latCell
	}
	lonHemi := "E"
	lonAbs := lonCell
	if lonCell < 0 {
		lonHemi = "W"
		lonAbs = -lonCell
	}
	return fmt.Sprintf("%s%02d%s%03d", latHemi, latAbs, lonHemi, lonAbs)
}
