package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/evidex/indexer/internal/caseindex"
	"github.com/evidex/indexer/internal/config"
	"github.com/evidex/indexer/internal/evidence"
	"github.com/evidex/indexer/internal/extract"
	"github.com/evidex/indexer/internal/indexing"
	"github.com/evidex/indexer/internal/pipeline"
)

type options struct {
	configPath       string
	workers          int
	noContent        bool
	indexUnallocated bool
	verbose          bool
	textCacheDir     string
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "indexer <evidence-dir> <case-dir>",
		Short:         "Index the text of evidence items into a case directory",
		Args:          cobra.ExactArgs(2),
		Version:       fmt.Sprintf("schema v%d", indexing.IndexSchemaVersion),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				log.Printf("Error: %v", err)
				return err
			}
			if err := run(cmd.Context(), cfg, args[0], args[1]); err != nil {
				log.Printf("Error: %v", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.IntVarP(&opts.workers, "workers", "w", 0, "number of indexing workers (default: number of CPUs)")
	f.BoolVar(&opts.noContent, "no-content", false, "index metadata only, skip file contents")
	f.BoolVar(&opts.indexUnallocated, "index-unallocated", false, "extract text from unallocated space")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every split document")
	f.StringVar(&opts.textCacheDir, "text-cache", "", "directory with text extracted by an earlier stage")

	return cmd
}

// loadConfig layers file, environment and explicitly set flags
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("workers") {
		if opts.workers <= 0 {
			return cfg, fmt.Errorf("--workers must be positive, got %d", opts.workers)
		}
		cfg.Workers = opts.workers
	}
	if f.Changed("no-content") {
		cfg.IndexFileContents = !opts.noContent
	}
	if f.Changed("index-unallocated") {
		cfg.IndexUnallocated = opts.indexUnallocated
	}
	if f.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	if f.Changed("text-cache") {
		cfg.TextCacheDir = opts.textCacheDir
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, evidenceDir, caseDir string) (err error) {
	startTime := time.Now()
	logger := cfg.NewLogger()

	log.Printf("Evidence Text Indexer (schema v%d)", indexing.IndexSchemaVersion)
	log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("Evidence: %s", evidenceDir)
	log.Printf("Case:     %s", caseDir)
	log.Printf("Contents: %v, unallocated: %v, workers: %d", cfg.IndexFileContents, cfg.IndexUnallocated, cfg.Workers)

	// Step 1: Lock the case
	lock := caseindex.NewLock(caseDir, logger)
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("failed to acquire case lock: %w", err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			log.Printf("Warning: %v", rerr)
		}
	}()

	// Step 2: Open the index and restore the ledger of any previous run
	writer, err := caseindex.Open(caseDir, cfg.BatchSize, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := pipeline.Open(caseDir, logger)
	if err != nil {
		return err
	}
	if known := data.Catalog.Len(); known > 0 {
		log.Printf("✓ Resuming case, %d evidence paths known, new items start at id %d", known, data.IDs.Peek())
	}

	// Step 3: Walk the evidence and index every item
	engine := extract.NewPlainText(cfg.FragmentChars, logger)
	task := indexing.NewTask(cfg.Settings(), engine, writer, data.Ledger, data.Stats, logger)
	src := &evidence.Source{
		Root:         evidenceDir,
		TextCacheDir: cfg.TextCacheDir,
		IDs:          data.IDs,
		Catalog:      data.Catalog,
		Logger:       logger,
	}

	items, errc := src.Walk(ctx)
	summary, runErr := pipeline.Run(ctx, data, task, items, cfg.Workers, logger)
	walkErr := <-errc

	if skipped := src.Skipped(); skipped > 0 {
		log.Printf("✓ Skipped %d items indexed by an earlier run", skipped)
	}

	// Step 4: Persist the ledger, also after an interrupted run
	if err := writer.Flush(); err != nil {
		return err
	}
	if err := data.Close(); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	log.Printf("✓ Ledger saved")

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Printf("Warning: run interrupted after %d items, resume with the same case directory", summary.Processed)
		}
		return runErr
	}
	if walkErr != nil {
		return walkErr
	}

	reportIndexed(summary, writer)
	log.Printf("✓ Indexing completed in %v", time.Since(startTime).Round(time.Millisecond))
	return nil
}

type docCounter interface {
	DocCount() (uint64, error)
}

// reportIndexed logs the run summary and the size of the index
func reportIndexed(summary pipeline.Summary, index docCounter) {
	count, err := index.DocCount()
	if err != nil {
		log.Printf("Warning: Could not count index documents: %v", err)
		log.Printf("✓ Indexed %d items (%d failed, %d split documents)",
			summary.Processed, summary.Failed, summary.Splits)
		return
	}
	log.Printf("✓ Indexed %d items (%d failed, %d split documents), %d documents in index",
		summary.Processed, summary.Failed, summary.Splits, count)
}
