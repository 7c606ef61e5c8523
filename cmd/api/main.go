package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/internal/config"
	"github.com/esc-lab/dialogue-bench/internal/database"
	"github.com/esc-lab/dialogue-bench/internal/handler"
	"github.com/esc-lab/dialogue-bench/internal/middleware"
	"github.com/esc-lab/dialogue-bench/internal/repository"
	"github.com/esc-lab/dialogue-bench/internal/router"
	"github.com/esc-lab/dialogue-bench/internal/service"
	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	client, err := llm.New(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create completion client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	experimentRepo := repository.NewExperimentRepository(db)
	questionRepo := repository.NewQuestionRepository(db)

	defaults := service.RunDefaults{
		GenerationModel: cfg.GenerationModel,
		UserModel:       cfg.UserModel,
		AgentModel:      cfg.AgentModel,
		ScoringModel:    cfg.ScoringModel,
		Candidates:      cfg.Candidates,
		NumTurns:        cfg.NumTurns,
		ScoreRounds:     cfg.ScoreRounds,
		TopK:            cfg.TopK,
		Concurrency:     cfg.Concurrency,
	}

	experimentService := service.NewExperimentService(client, experimentRepo, questionRepo, redisClient, cfg.VersionsCacheTTL, defaults, validate, logger)
	questionService := service.NewQuestionService(questionRepo, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ExperimentHandler: handler.NewExperimentHandler(experimentService, logger),
		QuestionHandler:   handler.NewQuestionHandler(questionService, logger),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, experimentService)
}

func waitForShutdown(app *fiber.App, experiments service.ExperimentService) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Let in-flight experiment runs settle before exiting.
	experiments.Wait()

	log.Println("server stopped")
}
