package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hut8/soar/domain"
)

// FindAircraft implements identity.Store, looking up the long-lived
// Aircraft row by its wire address and address type.
func (s *PGStore) FindAircraft(ctx context.Context, address string, addrType domain.AddressType) (*domain.Aircraft, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, address, address_type, address_country, registration, aircraft_model,
		        tracker_device_type, aircraft_type_ogn, tracked, identified, from_ogn_ddb, club_id
		 FROM aircraft WHERE address = $1 AND address_type = $2`,
		address, string(addrType),
	)

	var a domain.Aircraft
	var addrTypeStr string
	err := row.Scan(
		&a.ID, &a.Address, &addrTypeStr, &a.AddressCountry, &a.Registration, &a.AircraftModel,
		&a.TrackerDeviceType, &a.AircraftTypeOGN, &a.Tracked, &a.Identified, &a.FromOGNDDB, &a.ClubID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: find aircraft: %w", err)
	}
	a.AddressType = domain.AddressType(addrTypeStr)
	return &a, nil
}

// CreateAircraft inserts a newly observed Aircraft identity.
func (s *PGStore) CreateAircraft(ctx context.Context, a *domain.Aircraft) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aircraft
		   (id, address, address_type, address_country, registration, aircraft_model,
		    tracker_device_type, aircraft_type_ogn, tracked, identified, from_ogn_ddb, club_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (address, address_type) DO NOTHING`,
		a.ID, a.Address, string(a.AddressType), a.AddressCountry, a.Registration, a.AircraftModel,
		a.TrackerDeviceType, a.AircraftTypeOGN, a.Tracked, a.Identified, a.FromOGNDDB, a.ClubID,
	)
	if err != nil {
		return fmt.Errorf("persistence: create aircraft: %w", err)
	}
	return nil
}
