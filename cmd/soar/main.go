package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/hut8/soar/app"
	"github.com/hut8/soar/config"
)

func main() {
	cmd := &cli.Command{
		Name:   "soar",
		Usage:  "Ingest OGN APRS and ADS-B Beast traffic, track flights, and serve live telemetry",
		Flags:  config.Flags(),
		Action: app.Run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
