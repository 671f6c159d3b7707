package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/serdaroglu/suizim-bot/internal/config"
	"github.com/serdaroglu/suizim-bot/internal/integration"
	"github.com/serdaroglu/suizim-bot/internal/integration/render"
	"github.com/serdaroglu/suizim-bot/internal/observability"
	"github.com/serdaroglu/suizim-bot/internal/repository"
	"github.com/serdaroglu/suizim-bot/internal/usecases"
)

// refreshTimeout bounds one full refresh of every city
const refreshTimeout = 5 * time.Minute

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting Su İzim Scraper...")

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewSQLiteReservoirRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr)
		go func() {
			log.Printf("Serving metrics on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	engine := render.NewChromeEngine(render.ChromeConfig{
		Headless: cfg.ChromeHeadless,
		ExecPath: cfg.ChromePath,
	})
	defer engine.Close()
	renderer := render.NewController(engine, render.DefaultOptions(), metrics, integration.RenderProfiles()...)
	defer renderer.Cleanup()

	scraper := integration.NewReservoirScraper(integration.SourceURLs{}, renderer, metrics)

	useCase := usecases.NewReservoirUseCase(scraper, repo, nil, metrics, usecases.Options{
		DefaultCity:      cfg.DefaultCity,
		DetailTTL:        cfg.DetailCacheTTL,
		OpenDataFallback: cfg.OpenDataFallback,
	})

	// Run use case immediately on startup
	refresh(ctx, useCase)

	c := cron.New()
	_, err = c.AddFunc(cfg.RefreshSchedule, func() {
		refresh(ctx, useCase)
	})
	if err != nil {
		log.Fatalf("Failed to set up cron job: %v", err)
	}

	log.Printf("Scraper has been scheduled with %q", cfg.RefreshSchedule)
	c.Start()

	<-ctx.Done()
	log.Println("Shutting down scraper...")
	<-c.Stop().Done()
}

func refresh(ctx context.Context, useCase *usecases.ReservoirUseCase) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if err := useCase.RefreshAll(ctx); err != nil {
		log.Printf("Data refresh failed: %v", err)
	}
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
