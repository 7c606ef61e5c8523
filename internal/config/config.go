package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the experiment service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseDSN string
	RedisURL    string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	GenerationModel string
	UserModel       string
	AgentModel      string
	ScoringModel    string

	Candidates  int
	NumTurns    int
	ScoreRounds int
	TopK        int
	Concurrency int

	VersionsCacheTTL time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and an
// optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DIALBENCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "dialogue-bench")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.dsn", "experiments.db")
	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("scoring.model", "gpt-4o-mini")
	v.SetDefault("candidates", 2)
	v.SetDefault("num_turns", 3)
	v.SetDefault("score_rounds", 3)
	v.SetDefault("top_k", 5)
	v.SetDefault("concurrency", 100)
	v.SetDefault("versions.cache_ttl", "5m")

	ttl, err := time.ParseDuration(v.GetString("versions.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid versions cache ttl: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		DatabaseDSN:      v.GetString("database.dsn"),
		RedisURL:         v.GetString("redis.url"),
		OpenAIAPIKey:     v.GetString("openai.api_key"),
		OpenAIBaseURL:    v.GetString("openai.base_url"),
		GenerationModel:  v.GetString("generation.model"),
		UserModel:        v.GetString("user.model"),
		AgentModel:       v.GetString("agent.model"),
		ScoringModel:     v.GetString("scoring.model"),
		Candidates:       v.GetInt("candidates"),
		NumTurns:         v.GetInt("num_turns"),
		ScoreRounds:      v.GetInt("score_rounds"),
		TopK:             v.GetInt("top_k"),
		Concurrency:      v.GetInt("concurrency"),
		VersionsCacheTTL: ttl,
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("openai api key must be provided")
	}

	if cfg.Candidates <= 0 {
		cfg.Candidates = 2
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 100
	}

	return cfg, nil
}
