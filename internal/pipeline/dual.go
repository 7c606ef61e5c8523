package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// Sampling defaults for the alternating-turn calls.
const (
	dualTemperature = 0.7
	dualMaxTokens   = 500
)

// TextCaller issues plain-text completion calls. *llm.Client satisfies
// it; tests substitute fakes.
type TextCaller interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// DualConfig tunes the dual-model generation engine.
type DualConfig struct {
	UserModel   string
	AgentModel  string
	Rounds      int
	Candidates  int
	Concurrency int
	Prompts     PromptSet
	Logger      zerolog.Logger
}

// DualGenerator simulates a conversation between a user-role model and
// a counselor-role model, one round at a time. Rounds inside a
// candidate are strictly sequential; candidates run in parallel.
type DualGenerator struct {
	client TextCaller
	cfg    DualConfig
	logger zerolog.Logger
}

// NewDualGenerator builds the dual-model generation engine.
func NewDualGenerator(client TextCaller, cfg DualConfig) *DualGenerator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &DualGenerator{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "dual_generation").Logger(),
	}
}

// Conversation states.
type dualState int

const (
	stateAwaitingUser dualState = iota
	stateAwaitingAgent
	stateRoundComplete
	stateTerminal
)

type conversation struct {
	question        string
	history         []llm.DialogueTurn
	completedRounds int
	maxRounds       int
	state           dualState
}

// advance performs exactly one state transition. Any call failure moves
// the conversation directly to the terminal state; whatever history has
// accumulated is kept.
func (g *DualGenerator) advance(ctx context.Context, conv *conversation) {
	switch conv.state {
	case stateAwaitingUser:
		prompt := g.cfg.Prompts.UserPrompt(conv.question, conv.history)
		reply, err := g.client.Complete(ctx, llm.Request{
			Model:       g.cfg.UserModel,
			Prompt:      prompt,
			Temperature: dualTemperature,
			MaxTokens:   dualMaxTokens,
		})
		if err != nil {
			conv.state = stateTerminal
			return
		}
		conv.history = append(conv.history, llm.DialogueTurn{Role: llm.RoleUser, Content: reply})
		conv.state = stateAwaitingAgent

	case stateAwaitingAgent:
		prompt := g.cfg.Prompts.AgentPrompt(conv.question, conv.history)
		reply, err := g.client.Complete(ctx, llm.Request{
			Model:       g.cfg.AgentModel,
			Prompt:      prompt,
			Temperature: dualTemperature,
			MaxTokens:   dualMaxTokens,
		})
		if err != nil {
			conv.state = stateTerminal
			return
		}
		conv.history = append(conv.history, llm.DialogueTurn{Role: llm.RoleAssistant, Content: reply})
		conv.completedRounds++
		conv.state = stateRoundComplete

	case stateRoundComplete:
		if conv.completedRounds < conv.maxRounds {
			conv.state = stateAwaitingUser
		} else {
			conv.state = stateTerminal
		}

	case stateTerminal:
		// No transitions out.
	}
}

// converse runs one candidate's conversation to its terminal state and
// returns the accumulated history.
func (g *DualGenerator) converse(ctx context.Context, question string) []llm.DialogueTurn {
	conv := &conversation{
		question:  question,
		maxRounds: g.cfg.Rounds,
		state:     stateAwaitingUser,
	}
	for conv.state != stateTerminal {
		g.advance(ctx, conv)
	}
	return conv.history
}

// Generate runs the dual-model conversation for every (question, slot)
// task. A candidate is produced only when its history is non-empty; a
// first-round user failure drops the slot entirely.
func (g *DualGenerator) Generate(ctx context.Context, questions []Question) []Candidate {
	start := time.Now()
	defer func() { stageDuration.WithLabelValues("generation").Observe(time.Since(start).Seconds()) }()

	slots := make([]generationSlot, 0, len(questions)*g.cfg.Candidates)
	for _, question := range questions {
		for cand := 1; cand <= g.cfg.Candidates; cand++ {
			slots = append(slots, generationSlot{question: question, candidateID: cand})
		}
	}

	g.logger.Info().
		Int("questions", len(questions)).
		Int("candidates_per_question", g.cfg.Candidates).
		Int("rounds", g.cfg.Rounds).
		Str("user_model", g.cfg.UserModel).
		Str("agent_model", g.cfg.AgentModel).
		Msg("starting dual-model generation")

	cot := fmt.Sprintf("Dual-model conversation; user model %s, agent model %s, %d rounds.",
		g.cfg.UserModel, g.cfg.AgentModel, g.cfg.Rounds)

	outcomes := RunAll(ctx, g.cfg.Concurrency, slots, func(ctx context.Context, slot generationSlot) ([]llm.DialogueTurn, error) {
		return g.converse(ctx, slot.question.Text), nil
	})

	candidates := make([]Candidate, 0, len(outcomes))
	for _, outcome := range outcomes {
		slot := outcome.Task
		history := outcome.Result
		if len(history) == 0 {
			generationTasks.WithLabelValues(ModeDual, statusFailed).Inc()
			g.logger.Warn().
				Int("question_id", slot.question.ID).
				Int("candidate_id", slot.candidateID).
				Msg("dual conversation produced no turns")
			continue
		}

		generationTasks.WithLabelValues(ModeDual, statusSuccess).Inc()
		g.logger.Info().
			Int("question_id", slot.question.ID).
			Int("candidate_id", slot.candidateID).
			Int("dialogue_len", len(history)).
			Msg("candidate generated")

		candidates = append(candidates, Candidate{
			QuestionID:  slot.question.ID,
			Question:    slot.question.Text,
			CandidateID: slot.candidateID,
			Mode:        ModeDual,
			Models:      ModelTags{User: g.cfg.UserModel, Agent: g.cfg.AgentModel},
			Output: llm.GenerationOutput{
				Question: slot.question.Text,
				CoT:      cot,
				Dialogue: history,
			},
		})
	}

	g.logger.Info().
		Int("succeeded", len(candidates)).
		Int("attempted", len(slots)).
		Msg("generation stage complete")
	return candidates
}
