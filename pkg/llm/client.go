package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dialbench",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "Duration of model completion calls",
	}, []string{"model"})

	callFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialbench",
		Subsystem: "llm",
		Name:      "call_failures_total",
		Help:      "Number of failed model completion attempts",
	}, []string{"model", "reason"})
)

// Config defines configuration options for the completion client.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       zerolog.Logger
}

// Request carries the parameters of one completion call. Sampling
// parameters are passed through to the provider untouched.
type Request struct {
	Model       string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Client invokes a remote chat-completion endpoint, optionally coercing
// replies into validated structured outputs. It holds only immutable
// configuration and is safe for concurrent use.
type Client struct {
	api    *openai.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// New builds a completion client from the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxAttempts
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultBackoff
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:    openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/esc-lab/dialogue-bench/pkg/llm"),
		logger: logger,
	}, nil
}

// Complete issues a plain-text completion and returns the raw reply,
// retrying failed attempts with a fixed backoff.
func (c *Client) Complete(parent context.Context, req Request) (string, error) {
	ctx, span := c.startSpan(parent, "llm.complete", req.Model)
	defer span.End()

	attempt := 0
	result, err := Retry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) (string, error) {
		attempt++
		reply, err := c.call(ctx, req, false)
		if err != nil {
			c.logAttempt(req.Model, attempt, err)
			return "", err
		}
		return reply, nil
	})
	if err != nil {
		c.recordSpanFailure(span, req.Model, err)
		return "", err
	}

	return result, nil
}

// GenerateDialogue issues a JSON-mode completion and validates the reply
// against the generation output schema.
func (c *Client) GenerateDialogue(parent context.Context, req Request) (*GenerationOutput, error) {
	ctx, span := c.startSpan(parent, "llm.generate_dialogue", req.Model)
	defer span.End()

	attempt := 0
	result, err := Retry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) (*GenerationOutput, error) {
		attempt++
		reply, err := c.call(ctx, req, true)
		if err != nil {
			c.logAttempt(req.Model, attempt, err)
			return nil, err
		}

		output, err := ParseGenerationOutput(req.Model, reply)
		if err != nil {
			callFailures.WithLabelValues(req.Model, "validation").Inc()
			c.logAttempt(req.Model, attempt, err)
			return nil, err
		}

		return output, nil
	})
	if err != nil {
		c.recordSpanFailure(span, req.Model, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("llm.dialogue_turns", len(result.Dialogue)))
	return result, nil
}

// ScoreDialogue issues a JSON-mode completion and validates the reply
// against the evaluation output schema.
func (c *Client) ScoreDialogue(parent context.Context, req Request) (*EvaluationOutput, error) {
	ctx, span := c.startSpan(parent, "llm.score_dialogue", req.Model)
	defer span.End()

	attempt := 0
	result, err := Retry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) (*EvaluationOutput, error) {
		attempt++
		reply, err := c.call(ctx, req, true)
		if err != nil {
			c.logAttempt(req.Model, attempt, err)
			return nil, err
		}

		output, err := ParseEvaluationOutput(req.Model, reply)
		if err != nil {
			callFailures.WithLabelValues(req.Model, "validation").Inc()
			c.logAttempt(req.Model, attempt, err)
			return nil, err
		}

		return output, nil
	})
	if err != nil {
		c.recordSpanFailure(span, req.Model, err)
		return nil, err
	}

	return result, nil
}

// call performs a single completion attempt.
func (c *Client) call(ctx context.Context, req Request, jsonMode bool) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, request)
	callDuration.WithLabelValues(req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		callFailures.WithLabelValues(req.Model, "transport").Inc()
		return "", &TransportError{Model: req.Model, Err: err}
	}

	if len(resp.Choices) == 0 {
		callFailures.WithLabelValues(req.Model, "transport").Inc()
		return "", &TransportError{Model: req.Model, Err: fmt.Errorf("no choices returned")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		callFailures.WithLabelValues(req.Model, "transport").Inc()
		return "", &TransportError{Model: req.Model, Err: fmt.Errorf("empty reply")}
	}

	return content, nil
}

func (c *Client) startSpan(ctx context.Context, name, model string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("model", model)))
}

func (c *Client) recordSpanFailure(span trace.Span, model string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Error().Err(err).Str("model", model).Msg("completion call failed after retries")
}

func (c *Client) logAttempt(model string, attempt int, err error) {
	c.logger.Warn().
		Err(err).
		Str("model", model).
		Int("attempt", attempt).
		Int("max_attempts", c.cfg.MaxRetries).
		Msg("completion attempt failed")
}
