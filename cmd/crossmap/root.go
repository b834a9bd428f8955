package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/config"
	"github.com/curatelab/crossmap/internal/crossmap"
	"github.com/curatelab/crossmap/internal/dictionary"
	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/embed"
	openaiemb "github.com/curatelab/crossmap/internal/embed/openai"
	"github.com/curatelab/crossmap/internal/logger"
	"github.com/curatelab/crossmap/internal/metrics"
	"github.com/curatelab/crossmap/internal/query"
	"github.com/curatelab/crossmap/internal/rerank"
	"github.com/curatelab/crossmap/internal/store"
	memstore "github.com/curatelab/crossmap/internal/store/memory"
	redisstore "github.com/curatelab/crossmap/internal/store/redis"
	"github.com/curatelab/crossmap/internal/version"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:     "crossmap",
		Short:   "Semantic crossmapping of data dictionary variables",
		Version: fmt.Sprintf("%s (commit %s)", version.Version, version.Commit),
		Long: `crossmap builds a per-field semantic search index over a reference data
dictionary and maps fields of an external dictionary to the closest
reference fields via embedding similarity and cross-encoder reranking.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(indexCmd, updateCmd, pruneCmd, mapCmd, serveCmd)
}

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   store.Store
	encoder embed.Encoder
	closers []func()
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
	_ = a.logger.Sync()
}

// newApp loads config, builds logger, store, and encoder. Validation is
// eager: a bad config fails here, before any index or query work.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(os.Getenv("ENV"), cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	metrics.Register()

	a := &app{cfg: cfg, logger: log}

	switch cfg.Store.Driver {
	case "redis":
		rs, err := redisstore.NewStore(redisstore.Config{
			Addrs:          cfg.Store.Addrs,
			Password:       cfg.Store.Password,
			KeyPrefix:      cfg.Store.KeyPrefix,
			Metric:         cfg.Store.DistanceMetric,
			RequestTimeout: time.Duration(cfg.Store.RequestTimeoutSec) * time.Second,
		})
		if err != nil {
			log.Error("failed to create redis store", zap.Error(err))
			return nil, err
		}
		if err := rs.WaitForReady(cmdContext(), 10*time.Second); err != nil {
			rs.Close()
			return nil, err
		}
		a.store = rs
		a.closers = append(a.closers, rs.Close)
	case "memory":
		ms, err := memstore.NewStore(cfg.Query.StoragePathRoot)
		if err != nil {
			return nil, err
		}
		a.store = ms
	}

	a.encoder = openaiemb.NewEncoder(openaiemb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Timeout:    time.Duration(cfg.Embedding.RequestTimeoutSec) * time.Second,
	})

	log.Info("crossmap initialized",
		zap.String("version", version.Version),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Strings("embed_columns", cfg.Embed.Columns))
	return a, nil
}

// loadDictionary reads the dictionary CSV at path (or the configured input
// when path is empty).
func (a *app) loadDictionary(path string) ([]domain.DictionaryRecord, error) {
	if path == "" {
		path = a.cfg.Dictionary.FilepathInput
	}
	if path == "" {
		return nil, fmt.Errorf("no input file: set data_dictionary.filepath_input or pass --input: %w",
			domain.ErrConfig)
	}
	loader := dictionary.NewLoader(a.cfg.Embed.IDColumn, a.cfg.Embed.Columns, a.cfg.Metadata, a.logger)
	return loader.LoadFile(path)
}

// newCrossmapService wires engine, scorer, and worker pool from config.
func (a *app) newCrossmapService() *crossmap.Service {
	engine := query.NewEngine(a.store, a.encoder,
		a.cfg.Query.SimilarityTopK, a.cfg.IncludeSet(), a.logger)

	ce := a.cfg.Query.Rerank.CrossEncoder
	scorer := rerank.NewHTTPScorer(rerank.HTTPConfig{
		BaseURL: ce.BaseURL,
		Model:   ce.ModelName,
		Timeout: time.Duration(ce.RequestTimeoutSec) * time.Second,
	})

	return crossmap.New(engine, scorer, a.cfg.QuerySpecs(),
		ce.TopN, a.cfg.Query.Workers, a.logger)
}
