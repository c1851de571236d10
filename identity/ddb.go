package identity

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/buntdb"
)

// OGNDeviceDB is a local cache of the OGN device database (DDB), loaded
// at startup from the upstream CSV and refreshed on a timer. Backed by
// BuntDB so the cache survives restarts without a network round trip.
type OGNDeviceDB struct {
	db       *buntdb.DB
	sourceURL string

	mu sync.RWMutex
}

// NewOGNDeviceDB opens (or creates) the local DDB cache at path.
func NewOGNDeviceDB(path, sourceURL string) (*OGNDeviceDB, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open ddb cache: %w", err)
	}
	return &OGNDeviceDB{db: db, sourceURL: sourceURL}, nil
}

// Close releases the underlying BuntDB handle.
func (d *OGNDeviceDB) Close() error { return d.db.Close() }

// Lookup returns the registration/model/tracker-type for an address if
// the local cache has an entry for it.
func (d *OGNDeviceDB) Lookup(address string) (registration, model, trackerType string, ok bool) {
	key := "ddb:" + strings.ToUpper(address)
	err := d.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			return err
		}
		parts := strings.SplitN(val, "\t", 3)
		if len(parts) != 3 {
			return buntdb.ErrNotFound
		}
		registration, model, trackerType = parts[0], parts[1], parts[2]
		ok = true
		return nil
	})
	if err != nil && err != buntdb.ErrNotFound {
		log.Printf("ddb_lookup_error address=%s err=%q", address, err)
	}
	return registration, model, trackerType, ok
}

// Refresh downloads the upstream DDB CSV and rewrites the local cache.
// The OGN DDB publishes a CSV with columns:
// DEVICE_TYPE,DEVICE_ID,AIRCRAFT_MODEL,REGISTRATION,CN,TRACKED,IDENTIFIED.
func (d *OGNDeviceDB) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: ddb refresh: unexpected status %d", resp.StatusCode)
	}

	count := 0
	err = d.db.Update(func(tx *buntdb.Tx) error {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "DEVICE_TYPE") {
				continue
			}
			fields := splitDDBLine(line)
			if len(fields) < 4 {
				continue
			}
			deviceID := strings.Trim(fields[1], "'\"")
			model := strings.Trim(fields[2], "'\"")
			registration := strings.Trim(fields[3], "'\"")
			trackerType := strings.Trim(fields[0], "'\"")
			if deviceID == "" {
				continue
			}
			key := "ddb:" + strings.ToUpper(deviceID)
			val := registration + "\t" + model + "\t" + trackerType
			if _, _, err := tx.Set(key, val, nil); err != nil {
				return err
			}
			count++
		}
		return scanner.Err()
	})
	if err != nil {
		return err
	}
	log.Printf("ddb_refreshed entries=%d", count)
	return nil
}

// RefreshLoop runs Refresh immediately and then on the given interval
// until ctx is cancelled.
func (d *OGNDeviceDB) RefreshLoop(ctx context.Context, interval time.Duration) {
	if err := d.Refresh(ctx); err != nil {
		log.Printf("ddb_refresh_error err=%q", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				log.Printf("ddb_refresh_error err=%q", err)
			}
		}
	}
}

func splitDDBLine(line string) []string {
	return strings.Split(line, ",")
}
