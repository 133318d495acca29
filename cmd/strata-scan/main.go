// Package main implements the strata-scan batch tool.
// It runs a read over one tablet with pushed-down conditions and scan
// ranges and prints the surviving rows.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/strataio/strata/internal/config"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/observability"
	"github.com/strataio/strata/internal/predicate"
	"github.com/strataio/strata/internal/reader"
	"github.com/strataio/strata/internal/storage"
	"github.com/strataio/strata/internal/tablet"
	"github.com/strataio/strata/pkg/types"
)

// Config holds the tool configuration.
type Config struct {
	ConfigPath string
	DataDir    string
	TabletID   string
	Version    int64
	Columns    string
	Wheres     multiFlag
	StartKeys  multiFlag
	EndKeys    multiFlag
	Range      string
	EndRange   string
	Limit      int64
	ShowStats  bool
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

	t, err := tablet.Open(ctx, toolCfg.TabletID, catalog, store, nil, cfg)
	if err != nil {
		log.Fatalf("Failed to open tablet: %v", err)
	}

	version := toolCfg.Version
	if version < 0 {
		version, err = t.MaxVersion(ctx)
		if err != nil {
			log.Fatalf("Failed to resolve latest version: %v", err)
		}
		if version < 0 {
			log.Printf("Tablet %s is empty", t.ID())
			return
		}
	}

	params, err := buildParams(t, toolCfg, version)
	if err != nil {
		log.Fatalf("Invalid scan parameters: %v", err)
	}

	r, err := t.OpenReader(ctx, params)
	if err != nil {
		log.Fatalf("Failed to open reader: %v", err)
	}
	defer r.Close()

	rows, err := printRows(t, r, toolCfg.Limit)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	if toolCfg.ShowStats {
		scanStats := observability.NewScanStats(time.Hour)
		for _, c := range params.Conditions {
			scanStats.RecordPredicate(c.ColumnName, c.Op)
		}
		scanStats.RecordScan(r.Stats())

		st, _ := scanStats.Totals()
		fmt.Fprintf(os.Stderr, "rows returned:        %d\n", rows)
		fmt.Fprintf(os.Stderr, "raw rows read:        %d\n", st.RawRowsRead)
		fmt.Fprintf(os.Stderr, "rows read:            %d\n", st.RowsRead)
		fmt.Fprintf(os.Stderr, "rows merged:          %d\n", st.MergedRows)
		fmt.Fprintf(os.Stderr, "rows delete filtered: %d\n", st.RowsDelFiltered)
		fmt.Fprintf(os.Stderr, "rows stats filtered:  %d\n", st.RowsStatsFiltered)
		fmt.Fprintf(os.Stderr, "rows bloom filtered:  %d\n", st.RowsBFFiltered)
		for _, cs := range scanStats.TopPredicates(5) {
			fmt.Fprintf(os.Stderr, "filtered column:      %s x%d\n", cs.Column, cs.Frequency)
		}
	}
}

func buildParams(t *tablet.Tablet, toolCfg Config, version int64) (reader.Params, error) {
	s := t.Schema()

	var returnColumns []int
	if toolCfg.Columns == "" {
		returnColumns = make([]int, s.NumFields())
		for i := range returnColumns {
			returnColumns[i] = i
		}
	} else {
		for _, name := range strings.Split(toolCfg.Columns, ",") {
			name = strings.TrimSpace(name)
			idx := s.FieldIndex(name)
			if idx < 0 {
				return reader.Params{}, fmt.Errorf("unknown column %q", name)
			}
			returnColumns = append(returnColumns, idx)
		}
	}

	conditions := make([]predicate.Condition, 0, len(toolCfg.Wheres))
	for _, raw := range toolCfg.Wheres {
		c, err := parseCondition(raw)
		if err != nil {
			return reader.Params{}, fmt.Errorf("condition %q: %w", raw, err)
		}
		conditions = append(conditions, c)
	}

	return reader.Params{
		Type:          reader.TypeQuery,
		Version:       types.Version{Lo: 0, Hi: version},
		Range:         toolCfg.Range,
		EndRange:      toolCfg.EndRange,
		StartKeys:     splitKeys(toolCfg.StartKeys),
		EndKeys:       splitKeys(toolCfg.EndKeys),
		Conditions:    conditions,
		ReturnColumns: returnColumns,
	}, nil
}

// splitKeys turns repeated "v1,v2,..." flags into key prefixes.
func splitKeys(flags multiFlag) [][]string {
	if len(flags) == 0 {
		return nil
	}
	keys := make([][]string, len(flags))
	for i, f := range flags {
		keys[i] = strings.Split(f, ",")
	}
	return keys
}

func printRows(t *tablet.Tablet, r *reader.Reader, limit int64) (int64, error) {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	s := t.Schema()
	dst := r.NewRowCursor()
	cols := r.ReturnColumns()
	var rows int64
	for limit <= 0 || rows < limit {
		if err := r.NextRow(dst); err != nil {
			if err == reader.ErrEOF {
				break
			}
			return rows, err
		}
		for i, cid := range cols {
			if i > 0 {
				if err := out.WriteByte('\t'); err != nil {
					return rows, err
				}
			}
			d := dst.Datum(cid)
			var text string
			if d == nil {
				text = `\N`
			} else {
				text = types.FormatDatum(s.Field(cid).Type, d)
			}
			if _, err := out.WriteString(text); err != nil {
				return rows, err
			}
		}
		if err := out.WriteByte('\n'); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
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
	flag.Int64Var(&cfg.Version, "version", -1, "Read version (-1 means latest)")
	flag.StringVar(&cfg.Columns, "columns", "", "Comma-separated columns to return (default all)")
	flag.Var(&cfg.Wheres, "where", "Filter condition \"column OP value[,value...]\" (repeatable)")
	flag.Var(&cfg.StartKeys, "start-key", "Scan range start key prefix \"v1,v2,...\" (repeatable)")
	flag.Var(&cfg.EndKeys, "end-key", "Scan range end key prefix \"v1,v2,...\" (repeatable)")
	flag.StringVar(&cfg.Range, "range", "ge", "Start bound operator: gt, ge or eq")
	flag.StringVar(&cfg.EndRange, "end-range", "le", "End bound operator: lt or le")
	flag.Int64Var(&cfg.Limit, "limit", 0, "Stop after this many rows (0 means all)")
	flag.BoolVar(&cfg.ShowStats, "stats", false, "Print read counters to stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strata-scan -tablet ID [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  strata-scan -tablet metrics -columns region,clicks\n")
		fmt.Fprintf(os.Stderr, "  strata-scan -tablet metrics -where \"region = us-east\" -stats\n")
		fmt.Fprintf(os.Stderr, "  strata-scan -tablet metrics -start-key 100 -end-key 200 -range ge -end-range lt\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if cfg.TabletID == "" {
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

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, "; ") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
