package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brandon/medievalmarkets/internal/config"
	"github.com/brandon/medievalmarkets/internal/domain"
	"github.com/brandon/medievalmarkets/internal/handler"
	"github.com/brandon/medievalmarkets/internal/ledger"
	"github.com/brandon/medievalmarkets/internal/pricing"
	"github.com/brandon/medievalmarkets/internal/service"
	"github.com/brandon/medievalmarkets/internal/standalone"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Commodity catalog.
	registry, err := domain.LoadRegistry(cfg.CommoditiesPath)
	if err != nil {
		slog.Error("failed to load commodities", slog.String("path", cfg.CommoditiesPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("commodities loaded", slog.Int("count", registry.Len()))

	// Ledger: load or fresh start.
	book := ledger.New()
	if err := book.LoadFromFile(cfg.LedgerPath); err != nil {
		slog.Error("failed to initialize ledger file", slog.String("path", cfg.LedgerPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	prices := pricing.New(book, registry)

	// Territory, bank, and inventory integrations. The built-in
	// standalone set is wired from the towns file; a missing file
	// means "integration absent" and the market degrades to
	// wilderness-only quoting.
	var (
		territory service.Territory
		bank      service.Bank
		inv       service.Inventory
		namer     handler.TownNamer
	)
	towns, rates, err := standalone.LoadTowns(cfg.TownsPath)
	if err != nil {
		slog.Warn("towns file unavailable; territory integration absent", slog.String("path", cfg.TownsPath), slog.String("error", err.Error()))
	} else {
		sbank := standalone.NewBank(rates)
		territory = towns
		bank = sbank
		inv = standalone.NewHoldings(cfg.Capacity)
		namer = towns

		// Seed each town's books and treasury so first quotes are sane.
		ids := registry.IDs()
		for _, town := range towns.Towns() {
			book.SeedTownIfMissing(town.Market, ids)
			if town.Treasury > 0 && sbank.Coins(town.Market.Account(), town.Currency) == 0 {
				sbank.Deposit(town.Market.Account(), town.Currency, town.Treasury)
			}
		}
		logger.Info("towns loaded", slog.Int("count", len(towns.Towns())))
	}

	params := service.Params{
		TreasuryTarget:  cfg.TreasuryTarget,
		BuySpread:       cfg.BuySpread,
		SellSpread:      cfg.SellSpread,
		MinSellMult:     cfg.MinSellMult,
		MaxTax:          cfg.MaxTax,
		DefaultCurrency: cfg.DefaultCurrency,
	}
	marketSvc := service.NewMarketService(params, registry, book, prices, territory, bank, inv)

	// Handlers and router.
	marketH := handler.NewMarketHandler(marketSvc, book, namer)
	adminH := handler.NewAdminHandler(book, cfg.LedgerPath)
	stream := handler.NewQuoteStream(marketSvc, 0)
	router := handler.NewRouter(marketH, adminH, stream, logger)

	// Start the autosave goroutine with a cancellable context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	saver := ledger.NewAutosaver(cfg.SaveInterval, book, cfg.LedgerPath)
	saver.Start(ctx)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, cancel context (final
	// ledger save happens in the autosaver), then save once more from
	// here in case the autosaver never ran.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	if err := book.SaveToFile(cfg.LedgerPath); err != nil {
		logger.Error("final ledger save failed", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}
