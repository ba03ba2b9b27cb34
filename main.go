package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/man0l/real-estate-analyzer/ai"
	"github.com/man0l/real-estate-analyzer/config"
	"github.com/man0l/real-estate-analyzer/scraper/imot"
	"github.com/man0l/real-estate-analyzer/services"
	"github.com/man0l/real-estate-analyzer/storage"
	"github.com/man0l/real-estate-analyzer/utils"
)

func main() {
	app := &cli.App{
		Name:  "real-estate-analyzer",
		Usage: "crawl imot.bg listings and enrich them with AI analysis",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "crawl",
				Usage:  "crawl the configured search and persist every listing",
				Action: crawlAction,
			},
			{
				Name:  "enrich",
				Usage: "run AI enrichment over persisted listings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "re-analyze records that already have results",
					},
					&cli.BoolFlag{
						Name:  "status-only",
						Usage: "run only the building-status pass",
					},
					&cli.BoolFlag{
						Name:  "images-only",
						Usage: "run only the image pass",
					},
				},
				Action: enrichAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger := utils.NewLogger(false)
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func crawlAction(c *cli.Context) error {
	logger := utils.NewLogger(c.Bool("debug"))
	cfg := config.Load()
	if err := cfg.ValidateCrawl(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	heuristics, err := config.LoadHeuristics(cfg.HeuristicsPath)
	if err != nil {
		logger.Warn("Heuristics config not loaded, using defaults: %v", err)
	}

	scraper := imot.New(cfg, logger, store, imot.NewExtractor(heuristics))
	if err := scraper.Scrape(ctx); err != nil {
		return err
	}
	logger.Info("Crawl finished, %d listings processed", scraper.Processed())
	return nil
}

func enrichAction(c *cli.Context) error {
	logger := utils.NewLogger(c.Bool("debug"))
	cfg := config.Load()
	if err := cfg.ValidateEnrich(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	text, vision := buildClients(cfg, logger)
	enricher := services.NewEnricher(store, text, vision, logger)

	return enricher.Run(ctx, services.Options{
		Force:      c.Bool("force"),
		StatusOnly: c.Bool("status-only"),
		ImagesOnly: c.Bool("images-only"),
	})
}

func openStore(cfg *config.Config, logger *utils.Logger) (*storage.Postgres, error) {
	var images *storage.ImagePipeline
	if cfg.HasBlobStorage() {
		blob := storage.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
		images = storage.NewImagePipeline(blob, logger)
	} else {
		logger.Warn("Supabase credentials not set, image files will not be stored")
	}
	return storage.NewPostgres(cfg.DatabaseURL, images, logger)
}

// buildClients wires the configured primary provider plus the optional
// fallback into resilient clients. Vision requests always go through an
// OpenAI-compatible model; with the llamacpp provider the image pass runs
// only when an OpenAI key is also configured.
func buildClients(cfg *config.Config, logger *utils.Logger) (text, vision services.Completer) {
	var fallback ai.Provider
	if cfg.FallbackAPIKey != "" && cfg.FallbackModel != "" {
		fallback = ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.FallbackAPIKey, cfg.FallbackModel)
	}

	var textPrimary ai.Provider
	switch cfg.AIProvider {
	case "llamacpp":
		textPrimary = ai.NewLlamaProvider(cfg.LlamaEndpointURL, cfg.LlamaAPIKey)
	default:
		textPrimary = ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.TextModel)
	}
	text = ai.NewClient(textPrimary, fallback, logger)

	if cfg.OpenAIKey != "" {
		visionPrimary := ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.VisionModel)
		vision = ai.NewClient(visionPrimary, fallback, logger)
	}
	return text, vision
}
