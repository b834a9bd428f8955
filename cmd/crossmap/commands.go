package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/dictionary"
	"github.com/curatelab/crossmap/internal/index"
	chitransport "github.com/curatelab/crossmap/internal/transport/chi"
)

// cmdContext returns a context canceled on SIGINT/SIGTERM. Indexing honors
// cancellation at batch boundaries, querying at record boundaries.
func cmdContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

var (
	inputFlag  string
	outputFlag string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the reference index from the configured data dictionary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.loadDictionary(inputFlag)
		if err != nil {
			return err
		}

		builder := index.NewBuilder(a.store, a.encoder, index.Options{
			MaxBatchSize: a.cfg.Store.MaxBatchSize,
			MaxAttempts:  a.cfg.Embedding.MaxAttempts,
			Metric:       a.cfg.Store.DistanceMetric,
		}, a.logger)

		if err := builder.Build(cmdContext(), records, a.cfg.Embed.Columns); err != nil {
			a.logger.Error("index build failed", zap.Error(err))
			return err
		}
		a.logger.Info("index build completed")
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Reconcile the index against a revised data dictionary",
	Long: `update re-embeds only records whose content hash differs from the stored
entry (or that are absent), independently per collection. Records no longer
present in the revision are not removed; use prune for that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		revision, err := a.loadDictionary(inputFlag)
		if err != nil {
			return err
		}

		updater := index.NewUpdater(a.store, a.encoder, index.Options{
			MaxBatchSize: a.cfg.Store.MaxBatchSize,
			MaxAttempts:  a.cfg.Embedding.MaxAttempts,
			Metric:       a.cfg.Store.DistanceMetric,
		}, a.logger)

		stats, err := updater.Update(cmdContext(), revision, a.cfg.Embed.Columns)
		for _, st := range stats {
			a.logger.Info("collection updated",
				zap.String("collection", st.Collection),
				zap.Int("new", st.New),
				zap.Int("changed", st.Changed),
				zap.Int("unchanged", st.Unchanged),
				zap.Int("skipped", len(st.Skipped)))
		}
		if err != nil {
			a.logger.Error("index update failed", zap.Error(err))
			return err
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries absent from a full revision of the dictionary",
	Long: `prune deletes index entries whose ids no longer appear in the supplied
revision file. It must be given the complete dictionary: pruning against a
partial revision would delete live entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		revision, err := a.loadDictionary(inputFlag)
		if err != nil {
			return err
		}

		updater := index.NewUpdater(a.store, a.encoder, index.Options{
			MaxBatchSize: a.cfg.Store.MaxBatchSize,
			Metric:       a.cfg.Store.DistanceMetric,
		}, a.logger)

		removed, err := updater.Prune(cmdContext(), revision, a.cfg.Embed.Columns)
		for collection, ids := range removed {
			a.logger.Info("pruned collection",
				zap.String("collection", collection), zap.Int("removed", len(ids)))
		}
		return err
	},
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Crossmap an external dictionary against the reference index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.loadDictionary(inputFlag)
		if err != nil {
			return err
		}

		service := a.newCrossmapService()
		ctx := cmdContext()

		start := time.Now()
		results, err := service.MapAll(ctx, records)
		if err != nil {
			return err
		}
		a.logger.Info("crossmapping finished",
			zap.Int("records", len(results)),
			zap.Duration("elapsed", time.Since(start)))

		output := outputFlag
		if output == "" {
			output = "crossmap_results.csv"
		}
		if err := dictionary.WriteResultsFile(
			output, a.cfg.QuerySpecs(), a.cfg.Metadata, a.cfg.IncludeSet(), records, results,
		); err != nil {
			return err
		}
		a.logger.Info("results written", zap.String("output", output))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the crossmap HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmdContext()

		// Log collection counts up front so an empty index is obvious.
		collections, err := a.store.ListCollections(ctx)
		if err != nil {
			return err
		}
		for _, c := range collections {
			n, err := a.store.Count(ctx, c)
			if err != nil {
				return err
			}
			a.logger.Info("collection ready", zap.String("collection", c), zap.Int("count", n))
		}

		server := chitransport.NewServer(a.newCrossmapService(), a.store, a.logger)
		httpSrv := &http.Server{
			Addr:         fmt.Sprintf(":%d", a.cfg.HTTP.Port),
			Handler:      server.Router(a.cfg.Auth.APIKeys),
			ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
		}

		a.logger.Info("HTTP server listening", zap.Int("port", a.cfg.HTTP.Port))
		return chitransport.ListenAndServe(
			httpSrv,
			time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second,
			a.logger,
			ctx.Done(),
		)
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, updateCmd, pruneCmd, mapCmd} {
		c.Flags().StringVar(&inputFlag, "input", "", "input CSV (default: data_dictionary.filepath_input)")
	}
	mapCmd.Flags().StringVar(&outputFlag, "output", "", "output CSV path (default: crossmap_results.csv)")
}
