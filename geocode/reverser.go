// Package geocode provides a narrow, best-effort reverse-geocoding client
// used to label flight takeoff/landing locations. The actual geocoder
// (Pelias) is an external collaborator, out of scope for this repository;
// this package is only the client contract and an HTTP implementation.
package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultTimeout = 250 * time.Millisecond

// Client resolves a lat/lon to a location identifier via a Pelias-
// compatible reverse-geocoding endpoint. Failures are swallowed by the
// caller's timeout budget; a flight without a resolvable location keeps
// a nil location id rather than blocking the flight tracker.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client against a Pelias-compatible /v1/reverse
// endpoint at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type peliasResponse struct {
	Features []struct {
		Properties struct {
			Label string `json:"label"`
			GID   string `json:"gid"`
		} `json:"properties"`
	} `json:"features"`
}

// Reverse implements flighttracker.Reverser. It always returns within
// defaultTimeout regardless of the caller's context deadline, ready to be
// dropped if the geocoder is slow or unreachable.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	u := c.baseURL + "/v1/reverse?" + url.Values{
		"point.lat": {strconv.FormatFloat(lat, 'f', 6, 64)},
		"point.lon": {strconv.FormatFloat(lon, 'f', 6, 64)},
		"size":      {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body peliasResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false
	}
	if len(body.Features) == 0 {
		return "", false
	}
	gid := body.Features[0].Properties.GID
	if gid == "" {
		return "", false
	}
	return gid, true
}
