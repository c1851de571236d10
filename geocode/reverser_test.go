package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReverseReturnsGIDOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{"properties": map[string]any{"label": "Bern, Switzerland", "gid": "whosonfirst:locality:1"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	gid, ok := c.Reverse(context.Background(), 46.9, 7.4)
	if !ok || gid != "whosonfirst:locality:1" {
		t.Fatalf("Reverse() = %q, %v; want gid, true", gid, ok)
	}
}

func TestReverseFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, ok := c.Reverse(context.Background(), 46.9, 7.4)
	if ok {
		t.Fatal("expected Reverse to fail open on a 500 response")
	}
}

func TestReverseNoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"features": []map[string]any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, ok := c.Reverse(context.Background(), 0, 0)
	if ok {
		t.Fatal("expected Reverse to report not-ok with no features")
	}
}
