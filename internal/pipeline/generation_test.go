package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// fakeDialogueCaller answers generation calls from a script keyed by a
// substring of the prompt. Unmatched prompts fail.
type fakeDialogueCaller struct {
	mu      sync.Mutex
	replies map[string]*llm.GenerationOutput
	fails   map[string]bool
	calls   int
}

func (f *fakeDialogueCaller) GenerateDialogue(ctx context.Context, req llm.Request) (*llm.GenerationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	for key, fail := range f.fails {
		if fail && strings.Contains(req.Prompt, key) {
			return nil, errors.Join(llm.ErrExhaustedRetries, &llm.TransportError{Model: req.Model, Err: errors.New("down")})
		}
	}
	for key, reply := range f.replies {
		if strings.Contains(req.Prompt, key) {
			out := *reply
			return &out, nil
		}
	}
	return nil, errors.New("no scripted reply")
}

func simpleOutput(question string) *llm.GenerationOutput {
	return &llm.GenerationOutput{
		Question: question,
		CoT:      "straightforward supportive plan",
		Dialogue: []llm.DialogueTurn{
			{Role: llm.RoleUser, Content: "I am struggling with " + question},
			{Role: llm.RoleAssistant, Content: "Let us talk through it together."},
		},
	}
}

func TestGeneratorEmitsAtMostNCandidatesPerQuestion(t *testing.T) {
	caller := &fakeDialogueCaller{
		replies: map[string]*llm.GenerationOutput{
			"anxiety":    simpleOutput("anxiety"),
			"loneliness": simpleOutput("loneliness"),
		},
	}

	generator := NewGenerator(caller, GeneratorConfig{
		Model:      "gen-model",
		NumTurns:   2,
		Candidates: 3,
		Logger:     zerolog.Nop(),
	})

	questions := []Question{{ID: 1, Text: "anxiety"}, {ID: 2, Text: "loneliness"}}
	candidates := generator.Generate(context.Background(), questions)

	require.Len(t, candidates, 6)

	perQuestion := map[int]map[int]bool{}
	for _, candidate := range candidates {
		require.Equal(t, ModeSingle, candidate.Mode)
		require.Equal(t, "gen-model", candidate.Models.Generator)
		if perQuestion[candidate.QuestionID] == nil {
			perQuestion[candidate.QuestionID] = map[int]bool{}
		}
		require.False(t, perQuestion[candidate.QuestionID][candidate.CandidateID], "duplicate candidate id")
		perQuestion[candidate.QuestionID][candidate.CandidateID] = true
		require.GreaterOrEqual(t, candidate.CandidateID, 1)
		require.LessOrEqual(t, candidate.CandidateID, 3)
	}
}

func TestGeneratorDropsFailedSlots(t *testing.T) {
	caller := &fakeDialogueCaller{
		replies: map[string]*llm.GenerationOutput{"anxiety": simpleOutput("anxiety")},
		fails:   map[string]bool{"loneliness": true},
	}

	generator := NewGenerator(caller, GeneratorConfig{
		Model:      "gen-model",
		NumTurns:   2,
		Candidates: 2,
		Logger:     zerolog.Nop(),
	})

	questions := []Question{{ID: 1, Text: "anxiety"}, {ID: 2, Text: "loneliness"}}
	candidates := generator.Generate(context.Background(), questions)

	require.Len(t, candidates, 2)
	for _, candidate := range candidates {
		require.Equal(t, 1, candidate.QuestionID)
	}
	require.Equal(t, 4, caller.calls, "every slot must be attempted exactly once")
}

func TestGeneratorKeepsShortDialogues(t *testing.T) {
	short := &llm.GenerationOutput{
		CoT:      "model returned fewer turns than requested",
		Dialogue: []llm.DialogueTurn{{Role: llm.RoleUser, Content: "hello"}},
	}
	caller := &fakeDialogueCaller{replies: map[string]*llm.GenerationOutput{"anxiety": short}}

	generator := NewGenerator(caller, GeneratorConfig{
		Model:      "gen-model",
		NumTurns:   5,
		Candidates: 1,
		Logger:     zerolog.Nop(),
	})

	candidates := generator.Generate(context.Background(), []Question{{ID: 1, Text: "anxiety"}})
	require.Len(t, candidates, 1)
	require.Len(t, candidates[0].Output.Dialogue, 1, "short output is not rejected at this layer")
}
