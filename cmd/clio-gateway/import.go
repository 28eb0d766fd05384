package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bronek/clio/pkg/backend/pebble"
	"github.com/Bronek/clio/pkg/config"
	"github.com/Bronek/clio/pkg/etl"
	"github.com/Bronek/clio/pkg/feed"
	"github.com/Bronek/clio/pkg/ledger"
	"github.com/Bronek/clio/pkg/ledgercache"
	"github.com/Bronek/clio/pkg/logging"
)

var flagIngest string

func init() {
	serveCmd.Flags().StringVar(&flagIngest, "ingest", "", "JSON-lines ledger file published into the store while serving")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig, cmd.Flags())
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	objects, err := ledgercache.New(cfg.Cache.Objects)
	if err != nil {
		return err
	}
	store, err := pebble.Open(cfg.Database.Path, objects, logger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	publisher := etl.NewPublisher(store, objects, etl.NewState(), feed.NewManager(logger), logger)
	n, err := importLedgers(ctx, args[0], publisher)
	if err != nil {
		return err
	}

	logger.Info().Int("ledgers", n).Str("source", args[0]).Msg("Import complete")
	return nil
}

// importLedgers publishes every ledger of the file at path ("-" reads
// stdin) and returns how many were published.
func importLedgers(ctx context.Context, path string, publisher *etl.Publisher) (int, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open ledger file: %w", err)
		}
		defer f.Close()
		r = f
	}

	n := 0
	err := etl.ReadLedgers(ctx, r, func(header ledger.Header, objects []ledger.Object) error {
		if err := publisher.Publish(ctx, header, objects); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("import %s: %w", path, err)
	}
	return n, nil
}

// ingestInBackground feeds path through the gateway's publisher so that
// clients and ledger subscribers see ledgers arrive while serving.
func (g *gateway) ingestInBackground(ctx context.Context, path string) {
	go func() {
		n, err := importLedgers(ctx, path, g.publisher)
		ev := g.logger.Info()
		if err != nil {
			ev = g.logger.Error().Err(err)
		}
		ev.Int("ledgers", n).Str("source", path).Msg("Ingestion finished")
	}()
}
