package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/kalshibot/internal/collectors"
	"github.com/web3guy0/kalshibot/internal/config"
	"github.com/web3guy0/kalshibot/internal/execution"
	"github.com/web3guy0/kalshibot/internal/feeds"
	"github.com/web3guy0/kalshibot/internal/kalshi"
	"github.com/web3guy0/kalshibot/internal/notify"
	"github.com/web3guy0/kalshibot/internal/pipeline"
	"github.com/web3guy0/kalshibot/internal/pricing"
	"github.com/web3guy0/kalshibot/internal/runtime"
	"github.com/web3guy0/kalshibot/internal/store"
)

func main() {
	reportOnly := flag.Bool("report", false, "print the calibration/accuracy report and exit")
	flag.Parse()

	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              KALSHIBOT - WEATHER & BTC BRACKETS")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Storage. The pipeline cannot run without it.
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	log.Info().Msg("✅ Storage layer initialized")

	// 2. Exchange client: signed when credentials exist, stub otherwise.
	client := buildClient(cfg)

	// 3. Price feeds.
	var feedList []runtime.Feed
	var binanceFeed *feeds.BinanceFeed
	var coinbaseFeed *feeds.CoinbaseFeed
	var krakenFeed *feeds.KrakenFeed
	if cfg.BTCEnabled {
		binanceFeed = feeds.NewBinanceFeed()
		coinbaseFeed = feeds.NewCoinbaseFeed()
		krakenFeed = feeds.NewKrakenFeed()
		feedList = append(feedList, binanceFeed, coinbaseFeed, krakenFeed)
		log.Info().Msg("✅ Crypto price feeds initialized")
	}
	var bookFeed *feeds.KalshiBookFeed
	if wsURL := client.WSURL(); wsURL != "" {
		bookFeed = feeds.NewKalshiBookFeed(wsURL, client.WSHeaders)
		feedList = append(feedList, bookFeed)
		log.Info().Msg("✅ Kalshi book feed initialized")
	}

	provider := pricing.New(binanceFeed, coinbaseFeed, krakenFeed, bookFeed, client, db)

	// 4. Collectors.
	var weatherCollector *collectors.WeatherCollector
	if cfg.WeatherEnabled {
		weatherCollector, err = collectors.NewWeatherCollector(
			cfg.WeatherLatitude, cfg.WeatherLongitude, cfg.WeatherTimezone,
			cfg.WeatherModels, cfg.WeatherForecastDays,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize weather collector")
		}
	}
	cryptoCollector := collectors.NewCryptoCollector()
	resolutionCollector := collectors.NewResolutionCollector(client, cfg.TargetSeriesTickers, 48)
	log.Info().Msg("✅ Collectors initialized")

	// 5. Pipeline with execution engine and reconciler.
	deps := pipeline.Deps{
		Client:      client,
		Store:       db,
		Provider:    provider,
		Crypto:      cryptoCollector,
		Resolutions: resolutionCollector,
		Engine:      execution.New(cfg, client, db),
		Reconciler:  execution.NewReconciler(cfg, client, db),
	}
	if weatherCollector != nil {
		deps.Weather = weatherCollector
	}
	p := pipeline.New(cfg, deps)
	log.Info().Msg("✅ Pipeline initialized")

	if *reportOnly {
		fmt.Println(p.Report())
		return
	}

	// 6. Telegram notifier, with the pipeline as command controller.
	notifier, err := notify.New(cfg, db, p)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	p.SetNotifier(notifier)
	notifier.Start()

	logStartupBanner(cfg)

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	ctx, cancel := context.WithCancel(context.Background())

	var books runtime.BookSource
	if bookFeed != nil {
		books = bookFeed
	}
	sup := runtime.New(cfg, client, p, books, feedList, notifier)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("🛑 Shutdown signal received")
		cancel()
	}()

	log.Info().Msg("🚀 All systems running...")
	sup.Run(ctx)

	notifier.Stop()
	log.Info().Msg("👋 Goodbye!")
}

// buildClient wires the signed REST client, falling back to the stub when
// credentials are absent so the pipeline can run end-to-end offline.
func buildClient(cfg *config.Config) kalshi.API {
	if cfg.KalshiAccessKey == "" || cfg.KalshiPrivateKeyPath == "" {
		log.Warn().Msg("⚠️ No Kalshi credentials, using stub exchange")
		return kalshi.NewStubClient(42)
	}

	signer, err := kalshi.NewSignerFromFile(cfg.KalshiAccessKey, cfg.KalshiPrivateKeyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load Kalshi signing key")
	}
	client, err := kalshi.NewClient(cfg.KalshiAPIBase, signer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kalshi client")
	}
	log.Info().Str("base", cfg.KalshiAPIBase).Msg("✅ Kalshi client initialized")
	return client
}

func logStartupBanner(cfg *config.Config) {
	log.Info().Msg("")
	log.Info().Msg("╔══════════════════════════════════════════════════════════════╗")
	log.Info().Msg("║              📈 KALSHI BRACKET SIGNAL BOT                    ║")
	log.Info().Msg("╠══════════════════════════════════════════════════════════════╣")
	log.Info().Msgf("║  Mode: %-52s  ║", cfg.BotMode)
	log.Info().Msgf("║  Provider: %-48s  ║", cfg.PaperTradingMode)
	log.Info().Msgf("║  Profile: %-49s  ║", cfg.TradingProfile)
	log.Info().Msgf("║  Series: %-50s  ║", fmt.Sprint(cfg.TargetSeriesTickers))
	log.Info().Msgf("║  Poll: %-52s  ║", cfg.PollInterval)
	log.Info().Msgf("║  Min edge: %-44.0f bps  ║", cfg.SignalMinEdgeBps)
	log.Info().Msg("╚══════════════════════════════════════════════════════════════╝")
	log.Info().Msg("")
}
