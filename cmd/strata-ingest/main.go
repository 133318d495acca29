// Package main implements the strata-ingest batch tool.
// It creates tablets from spec files, loads CSV rows into them, and
// records delete conditions.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/internal/tablet"
	"github.com/strataio/strata/pkg/types"
)

// nullMarker is the CSV token for a null value.
const nullMarker = `\N`

// Config holds the tool configuration.
type Config struct {
	ConfigPath string
	DataDir    string
	TabletID   string
	Create     bool
	SpecPath   string
	InputPath  string
	BatchRows  int
	Deletes    multiFlag
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

	var t *tablet.Tablet
	if toolCfg.Create {
		if toolCfg.SpecPath == "" {
			log.Fatalf("-create requires -spec")
		}
		s, keysType, err := tablet.LoadSpec(toolCfg.SpecPath)
		if err != nil {
			log.Fatalf("Failed to load tablet spec: %v", err)
		}
		t, err = tablet.Create(ctx, toolCfg.TabletID, keysType, s, catalog, store, nil, cfg)
		if err != nil {
			log.Fatalf("Failed to create tablet: %v", err)
		}
		log.Printf("Tablet %s created (%s, %d columns)", t.ID(), t.KeysType(), t.Schema().NumFields())
	} else {
		t, err = tablet.Open(ctx, toolCfg.TabletID, catalog, store, nil, cfg)
		if err != nil {
			log.Fatalf("Failed to open tablet: %v", err)
		}
	}

	if len(toolCfg.Deletes) > 0 {
		conditions := make([]predicate.Condition, 0, len(toolCfg.Deletes))
		for _, raw := range toolCfg.Deletes {
			c, err := parseCondition(raw)
			if err != nil {
				log.Fatalf("Invalid -delete condition %q: %v", raw, err)
			}
			conditions = append(conditions, c)
		}
		v, err := t.DeleteWhere(ctx, conditions)
		if err != nil {
			log.Fatalf("Failed to record delete: %v", err)
		}
		log.Printf("Delete recorded at version %d", v.Hi)
		return
	}

	if toolCfg.InputPath == "" {
		log.Fatalf("Nothing to do: pass -input to load rows or -delete to record a delete")
	}

	in := os.Stdin
	if toolCfg.InputPath != "-" {
		f, err := os.Open(toolCfg.InputPath)
		if err != nil {
			log.Fatalf("Failed to open input file: %v", err)
		}
		defer f.Close()
		in = f
	}

	total, batches, err := ingestCSV(ctx, t, in, toolCfg.BatchRows)
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}
	log.Printf("Loaded %d rows into tablet %s in %d batches", total, t.ID(), batches)
}

// ingestCSV reads CSV records, parses each column against the tablet
// schema, and commits one segment per batch.
func ingestCSV(ctx context.Context, t *tablet.Tablet, in io.Reader, batchRows int) (int64, int, error) {
	s := t.Schema()
	r := csv.NewReader(in)
	r.FieldsPerRecord = s.NumFields()

	var total int64
	batches := 0
	rows := make([][]types.Datum, 0, batchRows)

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		v, err := t.Ingest(ctx, rows)
		if err != nil {
			return err
		}
		batches++
		log.Printf("Committed %d rows at version %d", len(rows), v.Hi)
		rows = rows[:0]
		return nil
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, batches, fmt.Errorf("read csv: %w", err)
		}
		row := make([]types.Datum, len(record))
		for i, field := range record {
			if field == nullMarker {
				continue
			}
			f := s.Field(i)
			d, err := types.ParseDatum(f.Type, f.Length, field)
			if err != nil {
				return total, batches, fmt.Errorf("row %d column %q: %w", total+1, f.Name, err)
			}
			row[i] = d
		}
		rows = append(rows, row)
		total++
		if len(rows) >= batchRows {
			if err := flush(); err != nil {
				return total, batches, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, batches, err
	}
	return total, batches, nil
}

// parseCondition parses "column OP value[,value...]".
func parseCondition(s string) (predicate.Condition, error) {
	parts := strings.SplitN(s, " ", 3)
	if len(parts) != 3 {
		return predicate.Condition{}, fmt.Errorf("want \"column OP value[,value...]\"")
	}
	return predicate.Condition{
		ColumnName: parts[0],
		Op:         parts[1],
		Values:     strings.Split(parts[2], ","),
	}, nil
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to config file (yaml or json)")
	flag.StringVar(&cfg.DataDir, "data-dir", "", "Base data directory (overrides config)")
	flag.StringVar(&cfg.TabletID, "tablet", "", "Tablet ID")
	flag.BoolVar(&cfg.Create, "create", false, "Create the tablet from -spec before loading")
	flag.StringVar(&cfg.SpecPath, "spec", "", "Path to tablet spec file (yaml)")
	flag.StringVar(&cfg.InputPath, "input", "", "CSV input file, or - for stdin")
	flag.IntVar(&cfg.BatchRows, "batch-rows", 100000, "Rows per committed segment")
	flag.Var(&cfg.Deletes, "delete", "Delete condition \"column OP value[,value...]\" (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strata-ingest -tablet ID [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  strata-ingest -tablet metrics -create -spec metrics.yaml -input rows.csv\n")
		fmt.Fprintf(os.Stderr, "  strata-ingest -tablet metrics -input - < rows.csv\n")
		fmt.Fprintf(os.Stderr, "  strata-ingest -tablet metrics -delete \"region = us-east\"\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if cfg.TabletID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.BatchRows <= 0 {
		log.Fatalf("-batch-rows must be positive")
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

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, "; ") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
