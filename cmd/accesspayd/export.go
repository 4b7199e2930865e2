package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"accesspay/config"
	"accesspay/storage/eventlog"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	out := fs.String("out", "events.parquet", "Destination parquet file")
	eventType := fs.String("type", "", "Only export events of this type")
	subject := fs.String("subject", "", "Only export events about this escrow, split or credential")
	after := fs.Uint64("after", 0, "Only export events with a sequence above this value")
	limit := fs.Int("limit", 0, "Maximum number of events to export (0 exports all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.EventLog.Driver) == "" {
		return errors.New("event_log.Driver is not configured")
	}
	log, err := eventlog.Open(cfg.EventLog.Driver, cfg.EventLog.DSN)
	if err != nil {
		return err
	}
	defer log.Close()

	n, err := log.ExportParquet(context.Background(), *out, eventlog.Filter{
		Type:    *eventType,
		Subject: *subject,
		After:   *after,
		Limit:   *limit,
	})
	if err != nil {
		return err
	}
	fmt.Printf("exported %d events to %s\n", n, *out)
	return nil
}
