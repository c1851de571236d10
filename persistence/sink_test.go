package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	writes   [][]domain.Fix
	rawWrites [][]domain.RawMessage
	fail     bool
	failN    int
}

func (f *fakeStore) InsertFixes(_ context.Context, fixes []domain.Fix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failN > 0 {
		if f.failN > 0 {
			f.failN--
		}
		return &PartitionMissingError{Table: "fixes", Column: "received_at", At: time.Now()}
	}
	cp := make([]domain.Fix, len(fixes))
	copy(cp, fixes)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeStore) InsertRawMessages(_ context.Context, msgs []domain.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]domain.RawMessage, len(msgs))
	copy(cp, msgs)
	f.rawWrites = append(f.rawWrites, cp)
	return nil
}

func (f *fakeStore) UpsertFlight(_ context.Context, _ *domain.Flight) error     { return nil }
func (f *fakeStore) UpsertAircraft(_ context.Context, _ *domain.Aircraft) error { return nil }

func (f *fakeStore) totalWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.writes {
		n += len(b)
	}
	return n
}

func (f *fakeStore) totalRawWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.rawWrites {
		n += len(b)
	}
	return n
}

func TestSinkFlushesOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	s := NewSink(store, NewPartitionMonitor())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < batchMaxRows; i++ {
		s.Enqueue(domain.Fix{ID: uuid.New()})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.totalWritten() >= batchMaxRows {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d rows flushed on batch-size trigger, got %d", batchMaxRows, store.totalWritten())
}

func TestSinkFlushesOnAgeTimeout(t *testing.T) {
	store := &fakeStore{}
	s := NewSink(store, NewPartitionMonitor())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Enqueue(domain.Fix{ID: uuid.New()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.totalWritten() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a single pending fix to flush on the age timeout")
}

func TestSinkFlushesRawMessagesSeparatelyFromFixes(t *testing.T) {
	store := &fakeStore{}
	s := NewSink(store, NewPartitionMonitor())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.EnqueueRaw(domain.RawMessage{ID: uuid.New(), Source: domain.SourceAPRS})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.totalRawWritten() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a single pending raw message to flush on the age timeout")
}

func TestSinkRetriesPartitionMissingTwiceWithoutDroppingBatch(t *testing.T) {
	store := &fakeStore{failN: 2}
	monitor := NewPartitionMonitor()
	s := NewSink(store, monitor)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Enqueue(domain.Fix{ID: uuid.New()})

	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		if store.totalWritten() == 1 {
			if s.Dropped() != 0 {
				t.Fatalf("expected the batch to survive retries, Dropped=%d", s.Dropped())
			}
			if !monitor.AlertRaised {
				t.Fatal("expected the partition monitor to latch an alert")
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected the fix to eventually flush after partition-missing retries, writes=%d dropped=%d", store.totalWritten(), s.Dropped())
}

func TestPartitionNameRespects1AMBoundary(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	before := time.Date(2026, 7, 30, 0, 30, 0, 0, loc)
	after := time.Date(2026, 7, 30, 1, 30, 0, 0, loc)

	if got := PartitionName(before, loc); got != "fixes_p20260729" {
		t.Errorf("PartitionName before 01:00 = %s, want fixes_p20260729", got)
	}
	if got := PartitionName(after, loc); got != "fixes_p20260730" {
		t.Errorf("PartitionName after 01:00 = %s, want fixes_p20260730", got)
	}
}

func TestPartitionMonitorLatchesAlert(t *testing.T) {
	m := NewPartitionMonitor()
	if m.AlertRaised {
		t.Fatal("expected no alert initially")
	}
	m.Observe(time.Now())
	if !m.AlertRaised {
		t.Fatal("expected alert after Observe")
	}
	m.Reset()
	if m.AlertRaised {
		t.Fatal("expected Reset to clear the alert")
	}
}
