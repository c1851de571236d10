package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hut8/soar/domain"
)

// partitionMissingSQLState is the error Postgres raises when an insert
// targets a partitioned table with no matching child partition and no
// default partition (23514 / 42P01 vary by configuration; the canonical
// case used here is "no partition of relation found for row", SQLSTATE
// 23514 under check-constraint routing).
const partitionMissingSQLState = "23514"

// PGStore is the production Store, writing through a pgx/v5 connection
// pool with batched, idempotent inserts.
type PGStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPGStore opens a pooled connection to dsn. loc is the timezone used to
// compute partition boundaries (spec default: UTC+1).
func NewPGStore(ctx context.Context, dsn string, loc *time.Location) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("persistence: connect: %w", err)
	}
	return &PGStore{pool: pool, loc: loc}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() { s.pool.Close() }

// InsertFixes writes a batch of fixes with ON CONFLICT DO NOTHING so a
// redelivered fix (retry after a transient failure) never double-inserts.
func (s *PGStore) InsertFixes(ctx context.Context, fixes []domain.Fix) error {
	if len(fixes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range fixes {
		batch.Queue(
			`INSERT INTO fixes
			 (id, aircraft_id, raw_message_id, receiver_id, source, "timestamp", received_at,
			  latitude, longitude, altitude_msl_feet, altitude_agl_feet, altitude_agl_valid,
			  ground_speed_knots, track_degrees, climb_fpm, turn_rate_rot, flight_id, active, time_gap_seconds)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			 ON CONFLICT (id) DO NOTHING`,
			f.ID, f.AircraftID, f.RawMessageID, f.ReceiverID, string(f.Source), f.Timestamp, f.ReceivedAt,
			f.Latitude, f.Longitude, f.AltitudeMSLFeet, f.AltitudeAGLFeet, f.AltitudeAGLValid,
			f.GroundSpeedKnots, f.TrackDegrees, f.ClimbFPM, f.TurnRateROT, f.FlightID, f.Active, f.TimeGapSeconds,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if isPartitionMissing(err) {
				return &PartitionMissingError{Table: "fixes", Column: "received_at", At: fixes[i].ReceivedAt}
			}
			return fmt.Errorf("persistence: insert fix %d/%d: %w", i+1, batch.Len(), err)
		}
	}
	return nil
}

// InsertRawMessages writes a batch of raw wire frames with ON CONFLICT DO
// NOTHING, mirroring InsertFixes' idempotency guarantee. raw_messages is
// daily-partitioned on received_at the same way fixes is.
func (s *PGStore) InsertRawMessages(ctx context.Context, msgs []domain.RawMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			`INSERT INTO raw_messages (id, source, received_at, payload, receiver_id)
			 VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, string(m.Source), m.ReceivedAt, m.Payload, m.ReceiverID,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if isPartitionMissing(err) {
				return &PartitionMissingError{Table: "raw_messages", Column: "received_at", At: msgs[i].ReceivedAt}
			}
			return fmt.Errorf("persistence: insert raw message %d/%d: %w", i+1, batch.Len(), err)
		}
	}
	return nil
}

// UpsertFlight inserts or updates a flight's takeoff/landing state.
func (s *PGStore) UpsertFlight(ctx context.Context, f *domain.Flight) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO flights (id, aircraft_id, takeoff_time, takeoff_location_id, landing_time, landing_location_id, in_progress)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
		   landing_time = EXCLUDED.landing_time,
		   landing_location_id = EXCLUDED.landing_location_id,
		   in_progress = EXCLUDED.in_progress`,
		f.ID, f.AircraftID, f.TakeoffTime, f.TakeoffLocationID, f.LandingTime, f.LandingLocationID, f.InProgress,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert flight: %w", err)
	}
	return nil
}

// UpsertAircraft writes the long-lived identity row, used by the identity
// resolver's async enrichment path.
func (s *PGStore) UpsertAircraft(ctx context.Context, a *domain.Aircraft) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aircraft (id, address, address_type, registration, aircraft_model, tracker_device_type, tracked, identified, from_ogn_ddb)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (id) DO UPDATE SET
		   registration = EXCLUDED.registration,
		   aircraft_model = EXCLUDED.aircraft_model,
		   tracker_device_type = EXCLUDED.tracker_device_type,
		   identified = EXCLUDED.identified,
		   from_ogn_ddb = EXCLUDED.from_ogn_ddb`,
		a.ID, a.Address, string(a.AddressType), a.Registration, a.AircraftModel, a.TrackerDeviceType, a.Tracked, a.Identified, a.FromOGNDDB,
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert aircraft: %w", err)
	}
	return nil
}

// SaveFlight implements flighttracker.FlightStore; the flight tracker
// calls this directly (outside the batched fix-write path) whenever a
// flight's state changes, since takeoff/landing events are rare enough
// not to need batching.
func (s *PGStore) SaveFlight(ctx context.Context, f *domain.Flight) error {
	return s.UpsertFlight(ctx, f)
}

// PartitionName computes the fixes_pYYYYMMDD partition name a timestamp
// routes to, per the configured timezone's 01:00 boundary convention.
func PartitionName(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	if local.Hour() < 1 {
		local = local.AddDate(0, 0, -1)
	}
	return fmt.Sprintf("fixes_p%04d%02d%02d", local.Year(), local.Month(), local.Day())
}

func isPartitionMissing(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == partitionMissingSQLState || strings.Contains(pgErr.Message, "no partition of relation")
	}
	return false
}
