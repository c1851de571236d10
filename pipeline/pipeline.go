// Package pipeline wires the ingestion stages — transport clients,
// decoders, router, identity resolver, fix builder, elevation enricher,
// flight tracker, persistence sink and live fan-out — into the bounded
// queues described in the system overview, and drives graceful shutdown.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/hut8/soar/decode"
	"github.com/hut8/soar/domain"
	"github.com/hut8/soar/elevation"
	"github.com/hut8/soar/fixbuilder"
	"github.com/hut8/soar/flighttracker"
	"github.com/hut8/soar/identity"
	"github.com/hut8/soar/livefanout"
	"github.com/hut8/soar/monitoring"
	"github.com/hut8/soar/persistence"
	"github.com/hut8/soar/router"
	"github.com/hut8/soar/storage"
	"github.com/hut8/soar/transport"
)

const (
	rawQueueSize     = 4096
	decodedQueueSize = 4096
	beaconQueueSize  = 256
	shardQueueSize   = 1024

	// partitionBoundaryLookahead/Poll drive the best-effort warning that
	// fires before the daily partition boundary; the authoritative alert
	// is still the sink's Observe on an actual partition-missing write.
	partitionBoundaryLookahead = 30 * time.Minute
	partitionBoundaryPoll      = time.Minute
)

// buildWork is one identity-resolved message routed to the shard worker
// responsible for its aircraft.
type buildWork struct {
	aircraft *domain.Aircraft
	msg      domain.DecodedMessage
}

// Pipeline owns every stage and the queues connecting them.
type Pipeline struct {
	APRSClients  []*transport.APRSClient
	BeastClients []*transport.BeastClient

	aprsDecoder  *decode.APRSDecoder
	beastDecoder *decode.BeastDecoder

	router *router.Router

	identity      *identity.Resolver
	fixes         *fixbuilder.Pool
	terrain       *elevation.Enricher
	flights       *flighttracker.Tracker
	sink          *persistence.Sink
	partitions    *persistence.PartitionMonitor
	fanout        *livefanout.Hub
	cluster       *livefanout.ClusterIndex
	receiverStore *storage.Store

	loc *time.Location

	rawAPRS   chan domain.RawMessage
	rawBeast  chan domain.RawMessage
	decoded   chan domain.DecodedMessage
	aircraft  chan domain.DecodedMessage
	receivers chan domain.ReceiverBeacon
	shards    []chan buildWork
}

// Config collects the dependencies the pipeline needs to construct its
// stages; transport/store/terrain/geocoder concerns are handed in already
// built so Pipeline itself stays free of flag parsing.
type Config struct {
	APRSClients  []*transport.APRSClient
	BeastClients []*transport.BeastClient

	Store    identity.Store
	DDB      identity.DDB
	Terrain  elevation.Source
	Reverser flighttracker.Reverser

	FlightStore      flighttracker.FlightStore
	PersistenceStore persistence.Store
	ReceiverStore    *storage.Store

	FixShards  int
	Thresholds flighttracker.Thresholds
	Loc        *time.Location
}

// New builds a Pipeline ready to Run.
func New(cfg Config) *Pipeline {
	if cfg.FixShards < 1 {
		cfg.FixShards = 1
	}
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	monitor := persistence.NewPartitionMonitor()

	p := &Pipeline{
		APRSClients:   cfg.APRSClients,
		BeastClients:  cfg.BeastClients,
		aprsDecoder:   decode.NewAPRSDecoder(),
		beastDecoder:  decode.NewBeastDecoder(),
		identity:      identity.NewResolver(cfg.Store, cfg.DDB),
		fixes:         fixbuilder.NewPool(cfg.FixShards),
		terrain:       elevation.NewEnricher(cfg.Terrain),
		flights:       flighttracker.NewTracker(cfg.Thresholds, cfg.Reverser, cfg.FlightStore),
		sink:          persistence.NewSink(cfg.PersistenceStore, monitor),
		partitions:    monitor,
		fanout:        livefanout.NewHub(),
		cluster:       livefanout.NewClusterIndex(),
		receiverStore: cfg.ReceiverStore,
		loc:           cfg.Loc,
		rawAPRS:       make(chan domain.RawMessage, rawQueueSize),
		rawBeast:      make(chan domain.RawMessage, rawQueueSize),
		decoded:       make(chan domain.DecodedMessage, decodedQueueSize),
		aircraft:      make(chan domain.DecodedMessage, decodedQueueSize),
		receivers:     make(chan domain.ReceiverBeacon, beaconQueueSize),
		shards:        make([]chan buildWork, cfg.FixShards),
	}
	for i := range p.shards {
		p.shards[i] = make(chan buildWork, shardQueueSize)
	}
	p.router = router.NewRouter(p.aircraft, p.receivers)
	for _, c := range p.APRSClients {
		c.Out = p.rawAPRS
	}
	for _, c := range p.BeastClients {
		c.Out = p.rawBeast
	}
	return p
}

// Fanout exposes the live WebSocket hub for mounting in the HTTP router.
func (p *Pipeline) Fanout() *livefanout.Hub { return p.fanout }

// Cluster exposes the cluster snapshot index for mounting a REST handler.
func (p *Pipeline) Cluster() *livefanout.ClusterIndex { return p.cluster }

// PartitionMonitor exposes the partition-missing alert, so the HTTP router
// can mount its confirmation endpoint for the external maintenance job.
func (p *Pipeline) PartitionMonitor() *persistence.PartitionMonitor { return p.partitions }

// Run starts every stage and blocks until ctx is cancelled, then waits for
// every stage goroutine to return. All stages stop on the same
// cancellation at once: there is no ordered drain, and messages still
// queued between stages are not processed. The sink does one final flush
// of the batches it already holds.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, c := range p.APRSClients {
		wg.Add(1)
		go func(c *transport.APRSClient) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("aprs_client_exited err=%q", err)
			}
		}(c)
	}
	for _, c := range p.BeastClients {
		wg.Add(1)
		go func(c *transport.BeastClient) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("beast_client_exited err=%q", err)
			}
		}(c)
	}

	wg.Add(1)
	go func() { defer wg.Done(); p.decodeAPRS(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.decodeBeast(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.routeLoop(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.dispatchLoop(ctx) }()
	for i := range p.shards {
		wg.Add(1)
		go func(i int) { defer wg.Done(); p.buildLoop(ctx, i) }(i)
	}
	wg.Add(1)
	go func() { defer wg.Done(); p.terrain.Retries(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.sink.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.receiverLoop(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); p.partitions.WatchUpcomingBoundary(ctx, p.loc, partitionBoundaryLookahead, partitionBoundaryPoll) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			monitoring.QueueDepth.WithLabelValues("raw_aprs").Set(float64(len(p.rawAPRS)))
			monitoring.QueueDepth.WithLabelValues("raw_beast").Set(float64(len(p.rawBeast)))
			monitoring.QueueDepth.WithLabelValues("decoded").Set(float64(len(p.decoded)))
			var shardDepth int
			for _, ch := range p.shards {
				shardDepth += len(ch)
			}
			monitoring.QueueDepth.WithLabelValues("fix").Set(float64(shardDepth))
		}
	}
}

func (p *Pipeline) decodeAPRS(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.rawAPRS:
			p.sink.EnqueueRaw(raw)
			msg, ok := p.aprsDecoder.Decode(string(raw.Payload), raw.ReceivedAt)
			if !ok {
				continue
			}
			msg.RawMessageID = raw.ID
			msg.ReceiverID = raw.ReceiverID
			select {
			case p.decoded <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) decodeBeast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-p.rawBeast:
			p.sink.EnqueueRaw(raw)
			msg, ok := p.beastDecoder.Decode(raw.Payload, raw.ReceivedAt)
			if !ok {
				continue
			}
			msg.RawMessageID = raw.ID
			msg.ReceiverID = raw.ReceiverID
			select {
			case p.decoded <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) receiverLoop(ctx context.Context) {
	if p.receiverStore == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case beacon := <-p.receivers:
			if _, err := p.receiverStore.Observe(beacon, time.Now()); err != nil {
				log.Printf("receiver_observe_failed callsign=%q err=%q", beacon.Callsign, err)
			}
		}
	}
}

func (p *Pipeline) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.decoded:
			p.router.Route(msg)
		}
	}
}

// dispatchLoop resolves each decoded aircraft message to its canonical
// identity, then routes it onto the shard channel fixbuilder.ShardIndex
// says Build would use for that aircraft_id — so every fix for a given
// aircraft is always processed by the same buildLoop worker, giving the
// per-aircraft ordering guarantee without a per-aircraft lock.
func (p *Pipeline) dispatchLoop(ctx context.Context) {
	n := len(p.shards)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.aircraft:
			aircraft, ok := p.identity.Resolve(ctx, msg)
			if !ok {
				continue
			}
			idx := fixbuilder.ShardIndex(aircraft.ID, n)
			select {
			case p.shards[idx] <- buildWork{aircraft: aircraft, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// buildLoop runs the fix-build/enrich/track/persist/publish pipeline for
// one shard. It owns fixes.Shard(i) exclusively, so the shard's internal
// per-aircraft state needs no locking.
func (p *Pipeline) buildLoop(ctx context.Context, i int) {
	shard := p.fixes.Shard(i)
	ch := p.shards[i]
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-ch:
			fix, ok := shard.Build(ctx, work.aircraft, work.msg, work.msg.RawMessageID)
			if !ok {
				continue
			}
			fix = p.terrain.Enrich(ctx, fix)
			fix = p.flights.Process(ctx, fix)
			p.sink.Enqueue(fix)
			p.fanout.Publish(fix)
			p.cluster.Update(fix)
			if fix.FlightID != nil {
				monitoring.FlightTransitions.WithLabelValues("active").Inc()
			}
		}
	}
}
