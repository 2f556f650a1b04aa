// Command report-local runs the report pipeline against local files and
// writes the section and report artifacts to a directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"

	"github.com/Lllllllleong/companyreportflow/internal/artifacts"
	"github.com/Lllllllleong/companyreportflow/internal/cache"
	"github.com/Lllllllleong/companyreportflow/internal/config"
	"github.com/Lllllllleong/companyreportflow/internal/events"
	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/models"
	"github.com/Lllllllleong/companyreportflow/internal/notify"
	"github.com/Lllllllleong/companyreportflow/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		company        = flag.String("company", "", "company name used in prompts and report titles")
		email          = flag.String("email", "", "address shown in the logged notifications")
		outDir         = flag.String("out", "reports", "directory for section and report artifacts")
		sectionsFile   = flag.String("sections", "", "YAML file of section definitions (default: built-in set)")
		cachePath      = flag.String("cache", ".report-cache.json", "response cache file; empty disables caching")
		provider       = flag.String("provider", "", "model provider: vertex or openai (default: $MODEL_PROVIDER)")
		modelName      = flag.String("model", "", "model name (default: $MODEL_NAME)")
		workers        = flag.Int("workers", 0, "concurrent section workers (default: $MAX_WORKERS)")
		skipRefinement = flag.Bool("skip-refinement", false, "stop after the initial report")
		verbose        = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return fmt.Errorf("no source files given")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if *provider != "" {
		cfg.ModelProvider = *provider
	}
	if *modelName != "" {
		cfg.ModelName = *modelName
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *sectionsFile != "" {
		cfg.SectionsFile = *sectionsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sections, err := config.LoadSections(cfg.SectionsFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resolver, closeModels, err := services.NewModelResolver(ctx, cfg)
	if err != nil {
		return err
	}

	var responseCache *cache.Cache
	if *cachePath != "" {
		responseCache = cache.New(&cache.FileSidecar{Path: *cachePath}, cfg.CacheFlushEvery)
		if err := responseCache.Load(ctx); err != nil {
			slog.Warn("Failed to load response cache, starting empty", "error", err)
		}
	}

	f := services.NewReportFunctionWith(services.ReportDeps{
		Config:    cfg,
		Sections:  sections,
		Cache:     responseCache,
		Gateway:   gateway.New(responseCache, cfg.Gateway),
		Models:    resolver,
		Sources:   services.LocalSourceReader{},
		Artifacts: &artifacts.DirStore{Root: *outDir},
		Tracker:   services.NoopRunTracker{},
		Events:    events.LogSink{},
		Notifier:  notify.LogNotifier{},
		Closers:   []func() error{closeModels},
	})
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	resp, runErr := f.Process(ctx, &models.RunRequest{
		RunID:          uuid.NewString(),
		UserID:         "local",
		Email:          *email,
		CompanyName:    *company,
		SourceFiles:    flag.Args(),
		SkipRefinement: *skipRefinement,
	})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return runErr
}
