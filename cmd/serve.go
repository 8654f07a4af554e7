package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/channel"
	"github.com/zapbi/zapbi/internal/config"
	"github.com/zapbi/zapbi/internal/gateway"
	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/speech"
	"github.com/zapbi/zapbi/internal/store"
	"github.com/zapbi/zapbi/internal/store/pg"
	"github.com/zapbi/zapbi/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	server := gateway.NewServer(gateway.ServerConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		WebhookToken:       cfg.Server.WebhookToken,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		Orchestrator:       buildOrchestrator(cfg, stores),
	})

	// Hot reload: rebuild the pipeline on config change; the listener, the
	// pool and the rate limiter stay in place.
	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			next.Database = cfg.Database // the pool is not rebuilt on reload
			server.SetOrchestrator(buildOrchestrator(next, stores))
		})
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func buildOrchestrator(cfg *config.Config, stores *store.Stores) *gateway.Orchestrator {
	return gateway.NewOrchestrator(gateway.OrchestratorConfig{
		Stores:  stores,
		Gateway: channel.NewClient(),
		Engine: analytics.NewClient(
			cfg.Analytics.BaseURL, cfg.Analytics.Username, cfg.Analytics.Password),
		Provider: providers.NewOpenAIProvider(
			"openai", cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model),
		Model: cfg.LLM.Model,
		Transcriber: speech.NewHTTPTranscriber(
			cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.STTModel, cfg.Speech.Language),
		Synthesizer: speech.NewHTTPSynthesizer(
			cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.TTSModel, cfg.Speech.Voice, cfg.Speech.Format),
		Location:       cfg.Location(),
		MaxSpeechChars: cfg.Speech.MaxChars,
	})
}
