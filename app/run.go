package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/hut8/soar/config"
	"github.com/hut8/soar/elevation"
	"github.com/hut8/soar/flighttracker"
	"github.com/hut8/soar/geocode"
	"github.com/hut8/soar/identity"
	"github.com/hut8/soar/monitoring"
	"github.com/hut8/soar/persistence"
	"github.com/hut8/soar/pipeline"
	"github.com/hut8/soar/security"
	"github.com/hut8/soar/storage"
	"github.com/hut8/soar/transport"
	"github.com/hut8/soar/ui"
)

// Run is the main CLI action: it wires up monitoring, the ingestion
// pipeline, and HTTP routing (live fan-out, cluster snapshot, UI), then
// blocks until ctx is cancelled.
func Run(ctx context.Context, c *cli.Command) error {
	settings := config.FromCommand(c)

	if settings.Debug {
		monitoring.SetLogLevel("debug")
	}

	shutdownTracer := monitoring.InitTracer(settings.TracingEndpoint, "soar")
	defer shutdownTracer()

	security.ConfigureJWT(settings.JWTSecret, settings.JWTSecretFile)
	security.InitAuth()

	loc := time.FixedZone("partition", int(settings.PartitionTZOffset.Seconds()))

	store, err := persistence.NewPGStore(ctx, settings.PostgresDSN, loc)
	if err != nil {
		return err
	}
	defer store.Close()

	var ddb identity.DDB
	if d, ddbErr := identity.NewOGNDeviceDB(settings.OGNDDBPath, settings.OGNDDBURL); ddbErr != nil {
		log.Printf("ogn_ddb_open_failed err=%q", ddbErr)
	} else {
		defer d.Close()
		go d.RefreshLoop(ctx, 24*time.Hour)
		ddb = d
	}

	receiverStore, err := storage.Open(settings.ReceiverDBPath)
	if err != nil {
		return err
	}
	defer receiverStore.Close()

	var reverser flighttracker.Reverser = noopReverser{}
	if settings.GeocoderURL != "" {
		reverser = geocode.NewClient(settings.GeocoderURL)
	}

	aprsCfg := transport.DefaultAPRSConfig()
	aprsCfg.Address = settings.APRSAddress
	aprsCfg.Callsign = settings.APRSCallsign
	aprsCfg.Passcode = settings.APRSPasscode
	aprsCfg.Filter = settings.APRSFilter
	aprsClients := []*transport.APRSClient{transport.NewAPRSClient(aprsCfg, nil)}
	var beastClients []*transport.BeastClient
	for _, addr := range settings.BeastAddresses {
		beastClients = append(beastClients, transport.NewBeastClient(transport.DefaultBeastConfig(addr), nil))
	}

	p := pipeline.New(pipeline.Config{
		APRSClients:      aprsClients,
		BeastClients:     beastClients,
		Store:            store,
		DDB:              ddb,
		Terrain:          elevation.NewSRTMSource(settings.SRTMDir),
		Reverser:         reverser,
		FlightStore:      store,
		PersistenceStore: store,
		ReceiverStore:    receiverStore,
		FixShards:        16,
		Thresholds:       settings.Thresholds,
		Loc:              loc,
	})

	pipelineCtx, cancelPipeline := context.WithCancel(ctx)
	defer cancelPipeline()
	go p.Run(pipelineCtx)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(monitoring.ETagMiddleware)
	r.Use(middleware.RequestID)

	// WebSocket endpoint on the root router, unwrapped, so http.Hijacker
	// works during upgrade.
	r.Get("/ws/fixes", p.Fanout().ServeWS)

	api := chi.NewRouter()
	api.Use(middleware.Compress(5))
	api.Use(middleware.Timeout(15 * time.Second))
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "geolocation=(self)")
			next.ServeHTTP(w, r)
		})
	})
	api.Use(security.CORS())
	api.Use(security.SecurityMiddleware)
	api.Use(monitoring.TracingMiddleware)
	api.Use(monitoring.MetricsMiddleware)
	api.Use(monitoring.LoggingMiddleware)

	api.Handle("/metrics", monitoring.PrometheusHandler())
	api.Get("/api/clusters", p.Cluster().ServeSnapshot)
	api.Post("/api/partitions/confirm", p.PartitionMonitor().ServeConfirm)
	api.Handle("/*", ui.Handler())

	r.Mount("/", api)

	log.Printf("Server listening on %s\n", settings.ListenAddress)
	srv := &http.Server{
		Addr:              settings.ListenAddress,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("Shutdown signal received, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		cancelPipeline()
		<-errCh
		return nil
	case err := <-errCh:
		cancelPipeline()
		return err
	}
}

// noopReverser is used when no reverse-geocoding service is configured;
// flighttracker never blocks on location enrichment.
type noopReverser struct{}

func (noopReverser) Reverse(ctx context.Context, lat, lon float64) (string, bool) { return "", false }
