// Package config binds the urfave/cli flags used by cmd/soar to the
// runtime settings the pipeline stages need, with the spec's documented
// defaults.
package config

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hut8/soar/flighttracker"
)

// Settings is the fully-resolved runtime configuration for one pipeline
// invocation.
type Settings struct {
	ListenAddress string

	APRSAddress  string
	APRSCallsign string
	APRSPasscode string
	APRSFilter   string

	BeastAddresses []string

	SRTMDir string

	PostgresDSN      string
	PartitionTZOffset time.Duration

	GeocoderURL string

	OGNDDBPath string
	OGNDDBURL  string

	ReceiverDBPath string

	Thresholds flighttracker.Thresholds

	TracingEndpoint string
	Debug           bool

	JWTSecret     string
	JWTSecretFile string
}

// Flags is the full flag set for cmd/soar, grouped by category in the
// teacher's style.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Category: "server",
			Name:     "server.listen",
			Aliases:  []string{"listen", "l"},
			Value:    ":8080",
			Usage:    "`ADDRESS` to listen on (e.g., ':8080')",
		},
		&cli.StringFlag{
			Category: "aprs",
			Name:     "aprs.address",
			Value:    "aprs.glidernet.org:14580",
			Usage:    "OGN APRS-IS server `ADDRESS:PORT`",
		},
		&cli.StringFlag{
			Category: "aprs",
			Name:     "aprs.callsign",
			Value:    "SOAR",
			Usage:    "APRS-IS login callsign",
		},
		&cli.StringFlag{
			Category: "aprs",
			Name:     "aprs.passcode",
			Value:    "-1",
			Usage:    "APRS-IS login passcode (-1 for receive-only)",
		},
		&cli.StringFlag{
			Category: "aprs",
			Name:     "aprs.filter",
			Value:    "r/0/0/20000",
			Usage:    "APRS-IS server-side filter string",
		},
		&cli.StringSliceFlag{
			Category: "beast",
			Name:     "beast.address",
			Usage:    "Beast feeder `ADDRESS:PORT`, repeatable for multiple receivers",
		},
		&cli.StringFlag{
			Category: "elevation",
			Name:     "elevation.srtm_dir",
			Value:    "./data/srtm",
			Usage:    "Directory of SRTM .hgt terrain tiles",
		},
		&cli.StringFlag{
			Category: "persistence",
			Name:     "persistence.dsn",
			Usage:    "Postgres connection string for the time-series store",
		},
		&cli.DurationFlag{
			Category: "persistence",
			Name:     "persistence.partition_tz_offset",
			Value:    time.Hour,
			Usage:    "Timezone offset (east of UTC) used for daily partition boundaries",
		},
		&cli.StringFlag{
			Category: "geocode",
			Name:     "geocode.url",
			Usage:    "Base URL of a Pelias-compatible reverse-geocoding service (optional)",
		},
		&cli.StringFlag{
			Category: "identity",
			Name:     "identity.ddb_path",
			Value:    "./data/ogn-ddb.buntdb",
			Usage:    "Path to the local OGN device-database BuntDB cache",
		},
		&cli.StringFlag{
			Category: "identity",
			Name:     "identity.ddb_url",
			Value:    "https://ddb.glidernet.org/download/?t=1",
			Usage:    "URL of the OGN device database CSV export",
		},
		&cli.StringFlag{
			Category: "identity",
			Name:     "identity.receiver_db_path",
			Value:    "./data/receivers.buntdb",
			Usage:    "Path to the local receiver-table BuntDB cache",
		},
		&cli.FloatFlag{
			Category: "flighttracker",
			Name:     "flighttracker.takeoff_speed_kt",
			Value:    35,
			Usage:    "Minimum ground speed (knots) sustained for takeoff_dwell to declare takeoff",
		},
		&cli.FloatFlag{
			Category: "flighttracker",
			Name:     "flighttracker.takeoff_agl_ft",
			Value:    150,
			Usage:    "Minimum AGL altitude (feet) sustained for takeoff_dwell to declare takeoff",
		},
		&cli.DurationFlag{
			Category: "flighttracker",
			Name:     "flighttracker.takeoff_dwell",
			Value:    15 * time.Second,
			Usage:    "Dwell time above takeoff thresholds required before declaring takeoff",
		},
		&cli.FloatFlag{
			Category: "flighttracker",
			Name:     "flighttracker.landing_speed_kt",
			Value:    20,
			Usage:    "Maximum ground speed (knots) sustained for landing_dwell to declare landing",
		},
		&cli.FloatFlag{
			Category: "flighttracker",
			Name:     "flighttracker.landing_agl_ft",
			Value:    100,
			Usage:    "Maximum AGL altitude (feet) sustained for landing_dwell to declare landing",
		},
		&cli.DurationFlag{
			Category: "flighttracker",
			Name:     "flighttracker.landing_dwell",
			Value:    30 * time.Second,
			Usage:    "Dwell time below landing thresholds required before entering coalescing",
		},
		&cli.DurationFlag{
			Category: "flighttracker",
			Name:     "flighttracker.coalesce_window",
			Value:    120 * time.Second,
			Usage:    "Window after a provisional landing during which a new climb resumes the same flight",
		},
		&cli.StringFlag{
			Category: "monitoring",
			Name:     "tracing.endpoint",
			Aliases:  []string{"tracing", "t"},
			Usage:    "OpenTelemetry collector `ENDPOINT` for traces",
		},
		&cli.BoolFlag{
			Category: "monitoring",
			Name:     "debug",
			Aliases:  []string{"d"},
			Usage:    "Enable debug logging",
		},
		&cli.StringFlag{
			Category: "security",
			Name:     "security.jwt.secret",
			Usage:    "JWT secret for signing session cookies (HS256). If empty, load/generate from file",
			Hidden:   true,
		},
		&cli.StringFlag{
			Category: "security",
			Name:     "security.jwt.file",
			Value:    "./data/jwt.secret",
			Usage:    "Path to file to load/store JWT secret (used if security.jwt.secret is empty)",
			Hidden:   true,
		},
	}
}

// FromCommand resolves a Settings from a parsed cli.Command.
func FromCommand(cmd *cli.Command) Settings {
	th := flighttracker.DefaultThresholds()
	th.TakeoffSpeedKnots = cmd.Float("flighttracker.takeoff_speed_kt")
	th.TakeoffAGLFeet = cmd.Float("flighttracker.takeoff_agl_ft")
	th.TakeoffDwell = cmd.Duration("flighttracker.takeoff_dwell")
	th.LandingSpeedKnots = cmd.Float("flighttracker.landing_speed_kt")
	th.LandingAGLFeet = cmd.Float("flighttracker.landing_agl_ft")
	th.LandingDwell = cmd.Duration("flighttracker.landing_dwell")
	th.CoalesceWindow = cmd.Duration("flighttracker.coalesce_window")

	return Settings{
		ListenAddress:     cmd.String("server.listen"),
		APRSAddress:       cmd.String("aprs.address"),
		APRSCallsign:      cmd.String("aprs.callsign"),
		APRSPasscode:      cmd.String("aprs.passcode"),
		APRSFilter:        cmd.String("aprs.filter"),
		BeastAddresses:    cmd.StringSlice("beast.address"),
		SRTMDir:           cmd.String("elevation.srtm_dir"),
		PostgresDSN:       cmd.String("persistence.dsn"),
		PartitionTZOffset: cmd.Duration("persistence.partition_tz_offset"),
		GeocoderURL:       cmd.String("geocode.url"),
		OGNDDBPath:        cmd.String("identity.ddb_path"),
		OGNDDBURL:         cmd.String("identity.ddb_url"),
		ReceiverDBPath:    cmd.String("identity.receiver_db_path"),
		Thresholds:        th,
		TracingEndpoint:   cmd.String("tracing.endpoint"),
		Debug:             cmd.Bool("debug"),
		JWTSecret:         cmd.String("security.jwt.secret"),
		JWTSecretFile:     cmd.String("security.jwt.file"),
	}
}
