// Package persistence batches Fix and RawMessage writes into the
// time-series store, retrying transiently and surfacing partition-
// maintenance alerts rather than blocking the pipeline.
package persistence

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hut8/soar/domain"
)

const (
	batchMaxRows    = 1000
	batchMaxAge     = 200 * time.Millisecond
	retryQueueSize  = 20_000
	flushRetryDelay = 2 * time.Second

	// partitionMissingMaxRetries caps the retry count recorded on a batch
	// that fails with PartitionMissingError. The count only appears in the
	// log line: the batch is requeued after every such failure with no
	// limit, and is dropped only if the retry queue is full, since losing
	// fixes/raw_messages to a maintenance gap would be silent data loss,
	// not a transient write error.
	partitionMissingMaxRetries = 2
)

// Store is the narrow persistence contract the sink writes through; the
// production implementation is PGStore (pgstore.go), backed by pgx/v5.
type Store interface {
	InsertFixes(ctx context.Context, fixes []domain.Fix) error
	InsertRawMessages(ctx context.Context, msgs []domain.RawMessage) error
	UpsertFlight(ctx context.Context, f *domain.Flight) error
	UpsertAircraft(ctx context.Context, a *domain.Aircraft) error
}

// PartitionMissingError is returned by a Store when received_at falls
// outside the prepared partition range for fixes/raw_messages.
type PartitionMissingError struct {
	Table  string
	Column string
	At     time.Time
}

func (e *PartitionMissingError) Error() string {
	return "persistence: no partition prepared for " + e.Table + "." + e.Column
}

// retryBatch is one outstanding write, either fixes or raw messages
// (never both), carried through the retry queue with its attempt count.
type retryBatch struct {
	fixes   []domain.Fix
	raw     []domain.RawMessage
	retries int
}

func (b retryBatch) len() int { return len(b.fixes) + len(b.raw) }

// Sink batches Fix and RawMessage writes and flushes on size or age,
// whichever is first. It does not write flights: the flight tracker saves
// those synchronously through its own FlightStore.
type Sink struct {
	store   Store
	monitor *PartitionMonitor

	mu      sync.Mutex
	pending []domain.Fix

	muRaw      sync.Mutex
	pendingRaw []domain.RawMessage

	flushCh chan struct{}

	retryQueue chan retryBatch

	// Counters are written from both Run's loop and the delayed-retry
	// goroutines write spawns, so they're atomics rather than plain int64.
	flushed          atomic.Int64
	dropped          atomic.Int64
	partitionMissing atomic.Int64
	retriesDropped   atomic.Int64
}

func (s *Sink) Flushed() int64          { return s.flushed.Load() }
func (s *Sink) Dropped() int64          { return s.dropped.Load() }
func (s *Sink) PartitionMissing() int64 { return s.partitionMissing.Load() }
func (s *Sink) RetriesDropped() int64   { return s.retriesDropped.Load() }

// NewSink returns a sink ready to accept fixes and raw messages; call
// Run(ctx) in a goroutine to drive periodic flushing. monitor is notified
// on every partition-missing write failure.
func NewSink(store Store, monitor *PartitionMonitor) *Sink {
	return &Sink{
		store:      store,
		monitor:    monitor,
		flushCh:    make(chan struct{}, 1),
		retryQueue: make(chan retryBatch, retryQueueSize/batchMaxRows+1),
	}
}

// Enqueue adds a fix to the pending batch, triggering an immediate flush
// if the batch has reached its size threshold.
func (s *Sink) Enqueue(fix domain.Fix) {
	s.mu.Lock()
	s.pending = append(s.pending, fix)
	full := len(s.pending) >= batchMaxRows
	s.mu.Unlock()

	if full {
		s.requestFlush()
	}
}

// EnqueueRaw adds a raw wire frame to the pending batch, mirroring Enqueue.
func (s *Sink) EnqueueRaw(msg domain.RawMessage) {
	s.muRaw.Lock()
	s.pendingRaw = append(s.pendingRaw, msg)
	full := len(s.pendingRaw) >= batchMaxRows
	s.muRaw.Unlock()

	if full {
		s.requestFlush()
	}
}

func (s *Sink) requestFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// Run drives the batch-age timer and the background retry drain until ctx
// is cancelled. On cancellation it performs one final flush.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(batchMaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		case <-s.flushCh:
			s.flush(ctx)
		case batch := <-s.retryQueue:
			// Retries are delayed and written from their own goroutine so a
			// slow/failing write doesn't starve the ticker/flushCh cases
			// above and stall normal-path flushing during an outage.
			go s.delayedWrite(ctx, batch)
		}
	}
}

func (s *Sink) delayedWrite(ctx context.Context, batch retryBatch) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(flushRetryDelay):
	}
	s.write(ctx, batch)
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	fixes := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.muRaw.Lock()
	raw := s.pendingRaw
	s.pendingRaw = nil
	s.muRaw.Unlock()

	if len(fixes) > 0 {
		s.write(ctx, retryBatch{fixes: fixes})
	}
	if len(raw) > 0 {
		s.write(ctx, retryBatch{raw: raw})
	}
}

func (s *Sink) write(ctx context.Context, batch retryBatch) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	switch {
	case len(batch.fixes) > 0:
		err = s.store.InsertFixes(writeCtx, batch.fixes)
	case len(batch.raw) > 0:
		err = s.store.InsertRawMessages(writeCtx, batch.raw)
	default:
		return
	}

	if err == nil {
		s.flushed.Add(int64(batch.len()))
		return
	}

	if pm, ok := err.(*PartitionMissingError); ok {
		s.partitionMissing.Add(1)
		if s.monitor != nil {
			s.monitor.Observe(pm.At)
		}
		log.Printf("persistence_partition_missing table=%s column=%s at=%s retries=%d", pm.Table, pm.Column, pm.At, batch.retries)

		// Partition-missing batches are requeued after every failure, with
		// no retry limit: the alert is the signal the external maintenance
		// job needs, so a slow maintenance job just means delayed writes.
		// batch.retries stops growing at partitionMissingMaxRetries; the
		// batch is lost only if requeue finds the retry queue full.
		if batch.retries < partitionMissingMaxRetries {
			batch.retries++
		}
		s.requeue(batch)
		return
	}

	log.Printf("persistence_write_error rows=%d err=%q retries=%d", batch.len(), err, batch.retries)
	if batch.retries >= 1 {
		s.dropped.Add(int64(batch.len()))
		return
	}
	batch.retries++
	s.requeue(batch)
}

func (s *Sink) requeue(batch retryBatch) {
	select {
	case s.retryQueue <- batch:
	default:
		s.retriesDropped.Add(int64(batch.len()))
		s.dropped.Add(int64(batch.len()))
	}
}
