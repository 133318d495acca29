// Package main implements the strata-compact batch tool.
// It merges a tablet's segments (base or cumulative) and garbage
// collects segment objects the catalog no longer needs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/strataio/strata/internal/compaction"
	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/internal/tablet"
)

// Config holds the tool configuration.
type Config struct {
	ConfigPath  string
	DataDir     string
	TabletID    string
	Mode        string
	MinSources  int
	MaxSources  int
	MaxSizeMB   int64
	TTL         time.Duration
	WithOrphans bool
}

func main() {
	toolCfg := parseFlags()
	cfg := loadEngineConfig(toolCfg.ConfigPath, toolCfg.DataDir)
	ctx := context.Background()

	store := openStorage(ctx, cfg)
	catalog, err := manifest.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("Failed to open manifest catalog: %v", err)
	}
	defer catalog.Close()

	switch toolCfg.Mode {
	case "base", "cumulative":
		runMerge(ctx, toolCfg, cfg, catalog, store)
	case "gc":
		runGC(ctx, toolCfg, catalog, store)
	default:
		log.Fatalf("Unknown -mode %q: want base, cumulative or gc", toolCfg.Mode)
	}
}

func runMerge(ctx context.Context, toolCfg Config, cfg *config.Config, catalog *manifest.Catalog, store storage.ObjectStorage) {
	t, err := tablet.Open(ctx, toolCfg.TabletID, catalog, store, nil, cfg)
	if err != nil {
		log.Fatalf("Failed to open tablet: %v", err)
	}

	recs, err := catalog.GetCompactionCandidates(ctx, t.ID(), toolCfg.MaxSizeMB*1024*1024)
	if err != nil {
		log.Fatalf("Failed to list compaction candidates: %v", err)
	}

	var group *compaction.CandidateGroup
	if toolCfg.Mode == "base" {
		group = compaction.SelectBase(t.ID(), recs)
	} else {
		group = compaction.SelectCumulative(t.ID(), recs, toolCfg.MinSources, toolCfg.MaxSources)
	}
	if group == nil {
		log.Printf("Nothing to compact for tablet %s", t.ID())
		return
	}
	log.Printf("Compacting %d segments of tablet %s, versions [%d, %d]",
		len(group.Records), t.ID(), group.Version.Lo, group.Version.Hi)

	merger := compaction.NewMerger(catalog, store, cfg)
	var res *compaction.MergeResult
	if toolCfg.Mode == "base" {
		res, err = merger.CompactBase(ctx, t, group)
	} else {
		res, err = merger.CompactCumulative(ctx, t, group)
	}
	if err != nil {
		log.Fatalf("Compaction failed: %v", err)
	}
	log.Printf("Compaction done: target %s, %d rows written, %d merged, %d erased by deletes",
		res.SegmentID, res.RowsWritten, res.MergedRows, res.RowsDelFiltered)
}

func runGC(ctx context.Context, toolCfg Config, catalog *manifest.Catalog, store storage.ObjectStorage) {
	gc := compaction.NewGC(catalog, store, nil)

	removed, err := gc.CollectExpired(ctx, toolCfg.TTL)
	if err != nil {
		log.Fatalf("Failed to collect expired segments: %v", err)
	}
	log.Printf("Removed %d expired segment objects", removed)

	if !toolCfg.WithOrphans {
		return
	}
	if toolCfg.TabletID != "" {
		orphans, err := gc.CollectOrphans(ctx, toolCfg.TabletID)
		if err != nil {
			log.Fatalf("Failed to collect orphans: %v", err)
		}
		log.Printf("Removed %d orphan objects from tablet %s", orphans, toolCfg.TabletID)
		return
	}
	tablets, err := catalog.ListTablets(ctx)
	if err != nil {
		log.Fatalf("Failed to list tablets: %v", err)
	}
	for _, id := range tablets {
		orphans, err := gc.CollectOrphans(ctx, id)
		if err != nil {
			log.Fatalf("Failed to collect orphans for tablet %s: %v", id, err)
		}
		if orphans > 0 {
			log.Printf("Removed %d orphan objects from tablet %s", orphans, id)
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to config file (yaml or json)")
	flag.StringVar(&cfg.DataDir, "data-dir", "", "Base data directory (overrides config)")
	flag.StringVar(&cfg.TabletID, "tablet", "", "Tablet ID (required for base and cumulative)")
	flag.StringVar(&cfg.Mode, "mode", "cumulative", "Compaction mode: base, cumulative or gc")
	flag.IntVar(&cfg.MinSources, "min-sources", 2, "Minimum segments in a cumulative merge")
	flag.IntVar(&cfg.MaxSources, "max-sources", 16, "Maximum segments in a cumulative merge")
	flag.Int64Var(&cfg.MaxSizeMB, "max-size-mb", 1024, "Skip source segments larger than this")
	flag.DurationVar(&cfg.TTL, "ttl", 24*time.Hour, "Age before a compacted segment is collected (gc mode)")
	flag.BoolVar(&cfg.WithOrphans, "orphans", false, "Also collect orphan objects (gc mode)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strata-compact -mode MODE [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  strata-compact -tablet metrics -mode cumulative -max-sources 8\n")
		fmt.Fprintf(os.Stderr, "  strata-compact -tablet metrics -mode base\n")
		fmt.Fprintf(os.Stderr, "  strata-compact -mode gc -ttl 48h -orphans\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if cfg.Mode != "gc" && cfg.TabletID == "" {
		flag.Usage()
		os.Exit(2)
	}
	return cfg
}

func loadEngineConfig(path, dataDir string) *config.Config {
	var cfg *config.Config
	if path != "" {
		c, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		cfg = c
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create data directories: %v", err)
	}
	return cfg
}

func openStorage(ctx context.Context, cfg *config.Config) storage.ObjectStorage {
	switch cfg.Storage.Type {
	case "s3":
		store, err := storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
			Prefix:   cfg.Storage.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		return store
	default:
		store, err := storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		return store
	}
}
