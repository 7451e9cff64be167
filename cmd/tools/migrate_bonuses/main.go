// Command migrate_bonuses rewrites products stored with legacy wholesale and
// bonus fields into the tiered and multi-rule shapes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/app"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
)

type result struct {
	Scanned   int
	Rewritten int
	Failed    int
}

func main() {
	dryRun := flag.Bool("dry-run", true, "report the rewrites without saving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger("console", cfg.Obs.LogLevel).With().Str("tool", "migrate_bonuses").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	deps, err := app.Build(ctx, cfg, &logger, app.Options{Migrate: true, ApplicationName: "toko-pos-migrate-bonuses"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() { _ = deps.Close() }()

	res, err := migrate(ctx, deps.Store, deps.Catalog, *dryRun, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate products")
	}
	logger.Info().
		Bool("dry_run", *dryRun).
		Int("scanned", res.Scanned).
		Int("rewritten", res.Rewritten).
		Int("failed", res.Failed).
		Msg("bonus migration finished")
}

func migrate(ctx context.Context, store docstore.Store, svc *catalog.Service, dryRun bool, logger zerolog.Logger) (result, error) {
	var res result
	snaps, err := store.Query(ctx, docstore.Query{Collection: catalog.ProductsCollection})
	if err != nil {
		return res, err
	}
	for _, snap := range snaps {
		res.Scanned++
		var p catalog.Product
		if err := snap.DataTo(&p); err != nil {
			res.Failed++
			logger.Error().Err(err).Str("product_id", snap.ID).Msg("decode product")
			continue
		}
		p.ID = snap.ID
		report := catalog.Normalize(&p)
		if !report.Changed() {
			continue
		}
		logger.Info().Str("product_id", p.ID).Str("name", p.Name).Strs("changes", report.Notes).Msg("legacy shape found")
		if dryRun {
			res.Rewritten++
			continue
		}
		if _, err := svc.SaveProduct(ctx, p); err != nil {
			res.Failed++
			logger.Error().Err(err).Str("product_id", p.ID).Msg("save product")
			continue
		}
		res.Rewritten++
	}
	return res, nil
}
