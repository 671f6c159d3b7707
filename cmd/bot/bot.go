package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/serdaroglu/suizim-bot/internal/api"
	"github.com/serdaroglu/suizim-bot/internal/config"
	"github.com/serdaroglu/suizim-bot/internal/integration"
	"github.com/serdaroglu/suizim-bot/internal/integration/openai"
	"github.com/serdaroglu/suizim-bot/internal/integration/render"
	"github.com/serdaroglu/suizim-bot/internal/observability"
	"github.com/serdaroglu/suizim-bot/internal/repository"
	"github.com/serdaroglu/suizim-bot/internal/usecases"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting Su İzim Bot...")

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Free-text questions are optional
	openAIService, err := openai.NewOpenAIService(cfg.OpenAIAPIKey)
	if err != nil {
		log.Printf("Warning: free-text questions disabled: %v", err)
	}

	repo, err := repository.NewSQLiteReservoirRepository(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	metrics := observability.NewMetrics()

	engine := render.NewChromeEngine(render.ChromeConfig{
		Headless: cfg.ChromeHeadless,
		ExecPath: cfg.ChromePath,
	})
	defer engine.Close()
	renderer := render.NewController(engine, render.DefaultOptions(), metrics, integration.RenderProfiles()...)
	defer renderer.Cleanup()

	scraper := integration.NewReservoirScraper(integration.SourceURLs{}, renderer, metrics)

	useCase := usecases.NewReservoirUseCase(scraper, repo, openAIService, metrics, usecases.Options{
		DefaultCity:      cfg.DefaultCity,
		DetailTTL:        cfg.DetailCacheTTL,
		OpenDataFallback: cfg.OpenDataFallback,
	})

	telegramBot, err := api.NewTelegramBot(cfg.TelegramBotToken, useCase)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot: %v", err)
	}

	telegramBot.Start(ctx)
	log.Println("Su İzim Bot stopped")
}
