package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/esc-lab/dialogue-bench/internal/config"
	"github.com/esc-lab/dialogue-bench/internal/database"
	"github.com/esc-lab/dialogue-bench/internal/dto"
	"github.com/esc-lab/dialogue-bench/internal/models"
	"github.com/esc-lab/dialogue-bench/internal/questions"
	"github.com/esc-lab/dialogue-bench/internal/repository"
	"github.com/esc-lab/dialogue-bench/internal/service"
	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

func main() {
	var (
		input          = flag.String("input", "", "question file (.txt one per line, or .json)")
		limit          = flag.Int("limit", 0, "truncate the question list to the first N entries")
		version        = flag.String("version", "", "experiment version tag (required)")
		mode           = flag.String("mode", "single", "dialogue generation mode: single or dual")
		model          = flag.String("model", "", "generation model for single mode")
		userModel      = flag.String("user-model", "", "user-side model for dual mode")
		agentModel     = flag.String("agent-model", "", "agent-side model for dual mode")
		candidates     = flag.Int("candidates", 0, "candidate dialogues per question")
		numTurns       = flag.Int("num-turns", 0, "requested dialogue turns per side")
		dialogueRounds = flag.Int("dialogue-rounds", 0, "conversation rounds in dual mode")
		scoringModel   = flag.String("scoring-model", "", "judge model")
		scoringMode    = flag.String("scoring-mode", "per_turn", "scoring mode: per_turn or overall")
		scoreRounds    = flag.Int("score-rounds", 0, "scoring rounds per candidate")
		scoringTopK    = flag.Int("scoring-top-k", 0, "keep top K candidates per question after scoring")
		topK           = flag.Int("top-k", 0, "final global top K selection")
		concurrency    = flag.Int("concurrency", 0, "maximum in-flight model calls per stage")
		generationTmpl = flag.String("generation-prompt-file", "", "file overriding the generation prompt template")
		scoringTmpl    = flag.String("scoring-prompt-file", "", "file overriding the scoring prompt template")
		dbPath         = flag.String("db", "", "database DSN (overrides configuration)")
	)
	flag.Parse()

	if *version == "" {
		log.Fatal("--version is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.DatabaseDSN = *dbPath
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
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
	experiments := service.NewExperimentService(client, experimentRepo, questionRepo, nil, 0, defaults, validate, logger)

	req := dto.RunExperimentRequest{
		Version:          *version,
		Mode:             *mode,
		GenerationModel:  *model,
		UserModel:        *userModel,
		AgentModel:       *agentModel,
		QuestionLimit:    *limit,
		Candidates:       *candidates,
		NumTurns:         *numTurns,
		DialogueRounds:   *dialogueRounds,
		ScoringModel:     *scoringModel,
		ScoringMode:      *scoringMode,
		ScoreRounds:      *scoreRounds,
		ScoringTopK:      *scoringTopK,
		TopK:             *topK,
		Concurrency:      *concurrency,
		GenerationPrompt: readTemplate(*generationTmpl),
		ScoringPrompt:    readTemplate(*scoringTmpl),
	}

	if *input != "" {
		texts, err := questions.Load(*input, *limit)
		if err != nil {
			log.Fatalf("failed to load questions: %v", err)
		}
		req.Questions = texts
	}

	ctx := context.Background()
	if _, err := experiments.Run(ctx, req); err != nil {
		log.Fatalf("failed to start experiment: %v", err)
	}
	experiments.Wait()

	status, err := experiments.Status(ctx, *version)
	if err != nil {
		log.Fatalf("failed to read final status: %v", err)
	}
	if status.Status != models.StatusCompleted {
		log.Fatalf("experiment %s finished with status %s: %s", *version, status.Status, status.Error)
	}

	results, err := experiments.Results(ctx, *version)
	if err != nil {
		log.Fatalf("failed to read results: %v", err)
	}

	printResults(results)
}

func readTemplate(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read prompt template %s: %v", path, err)
	}
	return string(raw)
}

func printResults(results dto.ExperimentResultsResponse) {
	fmt.Printf("experiment %s: %s\n", results.Version, results.Status)

	if len(results.Statistics) > 0 {
		var stats map[string]interface{}
		if err := json.Unmarshal(results.Statistics, &stats); err == nil {
			fmt.Printf("statistics: num_candidates=%v avg_total=%v\n", stats["num_candidates"], stats["avg_total"])
		}
	}

	if len(results.Final) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(results.Final), "", "  ")
		if err == nil {
			fmt.Println(string(pretty))
		}
	}
}
