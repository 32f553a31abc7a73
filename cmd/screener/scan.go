package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/matteolongo/swing-screener-sub001/internal/config"
	"github.com/matteolongo/swing-screener-sub001/internal/ingest"
	"github.com/matteolongo/swing-screener-sub001/internal/marketdata"
	"github.com/matteolongo/swing-screener-sub001/internal/metrics"
	"github.com/matteolongo/swing-screener-sub001/internal/pipeline"
	"github.com/matteolongo/swing-screener-sub001/internal/relations"
	"github.com/matteolongo/swing-screener-sub001/internal/storage"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one intelligence cycle",
		Long: `Runs the full pipeline once: event ingestion, reaction evaluation,
peer confirmation and theme clustering, catalyst scoring, opportunity
ranking and lifecycle updates. All outputs persist under the data dir.`,
		RunE: runScan,
	}
	cmd.Flags().String("config", "config.yaml", "Path to the pipeline config file")
	cmd.Flags().String("symbols", "", "Comma-separated symbol universe (required)")
	cmd.Flags().String("asof", "", "Analysis timestamp, RFC3339 (default: now, UTC)")
	cmd.Flags().String("data-dir", "", "Override data_dir from config")
	cmd.Flags().String("technical", "", "Optional JSON file mapping symbol to technical readiness")
	cmd.Flags().Int("workers", 8, "Parallel reaction workers")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	symbolsFlag, _ := cmd.Flags().GetString("symbols")
	asofFlag, _ := cmd.Flags().GetString("asof")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	technicalPath, _ := cmd.Flags().GetString("technical")
	workers, _ := cmd.Flags().GetInt("workers")

	symbols := splitSymbols(symbolsFlag)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given, use --symbols AAPL,MSFT,...")
	}

	asof := time.Now().UTC()
	if asofFlag != "" {
		parsed, err := time.Parse(time.RFC3339, asofFlag)
		if err != nil {
			return fmt.Errorf("invalid --asof %q: %w", asofFlag, err)
		}
		asof = parsed.UTC()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	technical, err := loadTechnical(technicalPath)
	if err != nil {
		return err
	}

	peers, err := relations.LoadPeerMap(cfg.PeerMapPath)
	if err != nil {
		return err
	}

	gateway := ingest.NewMultiGateway(
		ingest.NewResilient(ingest.NewFileProvider(filepath.Join(cfg.DataDir, "events")), ingest.DefaultResilientConfig()),
		ingest.NewResilient(ingest.NewCalendarProvider(filepath.Join(cfg.DataDir, "earnings.yaml")), ingest.DefaultResilientConfig()),
	)

	var ohlcv marketdata.Provider = marketdata.NewCSVDirProvider(filepath.Join(cfg.DataDir, "ohlcv"))
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		ohlcv = marketdata.NewCachedProvider(ohlcv, rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("ohlcv cache enabled")
	}

	var store storage.Store
	if cfg.Postgres.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Postgres.DSN, time.Duration(cfg.Postgres.TimeoutSeconds)*time.Second)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
		log.Info().Msg("postgres store enabled")
	} else {
		store = storage.NewFileStore(cfg.DataDir)
	}

	m := metrics.New(prometheus.NewRegistry())
	p := pipeline.New(cfg, gateway, ohlcv, store, peers, pipeline.Options{Metrics: m, Workers: workers})

	snap, err := p.Run(cmd.Context(), symbols, technical, asof)
	if err != nil {
		return err
	}
	fmt.Print(snap.Summary())
	return nil
}

func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	return pipeline.NormalizeSymbols(strings.Split(raw, ","))
}

// loadTechnical reads the optional technical-readiness map; symbols absent
// from it are treated as neutral by the pipeline.
func loadTechnical(path string) (map[string]float64, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read technical map: %w", err)
	}
	raw := map[string]float64{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse technical map %s: %w", path, err)
	}
	out := make(map[string]float64, len(raw))
	for sym, v := range raw {
		out[strings.ToUpper(strings.TrimSpace(sym))] = v
	}
	return out, nil
}
