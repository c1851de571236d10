// Package elevation attaches AGL altitude to Fixes using a pluggable
// terrain source behind an LRU cache and a bounded, backpressured work
// queue.
package elevation

import (
	"context"
	"log"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/hut8/soar/domain"
)

// Source is the pluggable terrain backend; the production implementation
// is a local SRTM tile store (srtm.go).
type Source interface {
	// Elevation returns the terrain height in feet MSL at (lat, lon), or
	// ok=false if the cell can't be resolved (outside coverage, I/O error).
	Elevation(ctx context.Context, lat, lon float64) (feet float64, ok bool)
}

const (
	// gridResolution quantizes lat/lon to ~30m cells (one SRTM post).
	gridResolution = 1.0 / 3600
	cacheSize      = 1_000_000
	parallelism    = 8
	maxRetries     = 3
	retryBackoff   = 5 * time.Second
	lookupTimeout  = 2 * time.Second
)

type cell struct {
	latIdx, lonIdx int64
}

func quantize(lat, lon float64) cell {
	return cell{
		latIdx: int64(math.Round(lat / gridResolution)),
		lonIdx: int64(math.Round(lon / gridResolution)),
	}
}

// Enricher attaches altitude_agl_feet to Fixes.
type Enricher struct {
	source Source
	cache  *lru.Cache[cell, float64]
	sem    *semaphore.Weighted

	retryQueue chan retryItem

	enriched  atomic.Int64
	cacheHits atomic.Int64
	queueFull atomic.Int64
}

// Enriched reports how many fixes got a fresh (non-cached) terrain lookup,
// safe to read while Enrich runs concurrently across shard workers.
func (e *Enricher) Enriched() int64 { return e.enriched.Load() }

// CacheHits reports how many fixes were served from the terrain cache.
func (e *Enricher) CacheHits() int64 { return e.cacheHits.Load() }

// QueueFull reports how many fixes were dropped from the background retry
// queue because it was saturated.
func (e *Enricher) QueueFull() int64 { return e.queueFull.Load() }

type retryItem struct {
	fix     domain.Fix
	attempt int
}

// NewEnricher returns a ready enricher; call Retries(ctx) in a goroutine
// to process the background retry queue.
func NewEnricher(source Source) *Enricher {
	c, err := lru.New[cell, float64](cacheSize)
	if err != nil {
		panic(err)
	}
	return &Enricher{
		source:     source,
		cache:      c,
		sem:        semaphore.NewWeighted(parallelism),
		retryQueue: make(chan retryItem, 4096),
	}
}

// Enrich attaches altitude_agl_feet to fix. If the fix's terrain cell
// isn't cached and the bounded work queue is saturated, the fix is
// returned immediately with altitude_agl_valid=false and is enqueued for
// background retry rather than blocking the pipeline.
func (e *Enricher) Enrich(ctx context.Context, fix domain.Fix) domain.Fix {
	if fix.AltitudeMSLFeet == nil {
		return fix
	}

	c := quantize(fix.Latitude, fix.Longitude)
	if terrain, ok := e.cache.Get(c); ok {
		e.cacheHits.Add(1)
		agl := *fix.AltitudeMSLFeet - terrain
		fix.AltitudeAGLFeet = &agl
		fix.AltitudeAGLValid = true
		return fix
	}

	if !e.sem.TryAcquire(1) {
		e.enqueueRetry(fix, 0)
		return fix
	}
	defer e.sem.Release(1)

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	terrain, ok := e.source.Elevation(lookupCtx, fix.Latitude, fix.Longitude)
	if !ok {
		e.enqueueRetry(fix, 0)
		return fix
	}

	e.cache.Add(c, terrain)
	agl := *fix.AltitudeMSLFeet - terrain
	fix.AltitudeAGLFeet = &agl
	fix.AltitudeAGLValid = true
	e.enriched.Add(1)
	return fix
}

func (e *Enricher) enqueueRetry(fix domain.Fix, attempt int) {
	select {
	case e.retryQueue <- retryItem{fix: fix, attempt: attempt}:
	default:
		e.queueFull.Add(1)
	}
}

// Retries drains the background retry queue, re-attempting terrain
// lookups up to maxRetries times with a fixed backoff between attempts.
// Fixes that exhaust their retries stay altitude_agl_valid=false.
func (e *Enricher) Retries(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-e.retryQueue:
			if item.attempt >= maxRetries {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}

			c := quantize(item.fix.Latitude, item.fix.Longitude)
			lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
			terrain, ok := e.source.Elevation(lookupCtx, item.fix.Latitude, item.fix.Longitude)
			cancel()
			if !ok {
				e.enqueueRetry(item.fix, item.attempt+1)
				continue
			}
			e.cache.Add(c, terrain)
			log.Printf("elevation_retry_resolved lat=%v lon=%v attempt=%d", item.fix.Latitude, item.fix.Longitude, item.attempt)
		}
	}
}
