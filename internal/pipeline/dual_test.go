package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

// fakeTextCaller replies per model, failing after a configured number of
// successful calls for that model.
type fakeTextCaller struct {
	mu        sync.Mutex
	succeed   map[string]int // calls that succeed per model; -1 means always
	callCount map[string]int
}

func newFakeTextCaller(succeed map[string]int) *fakeTextCaller {
	return &fakeTextCaller{succeed: succeed, callCount: map[string]int{}}
}

func (f *fakeTextCaller) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callCount[req.Model]++
	allowed := f.succeed[req.Model]
	if allowed >= 0 && f.callCount[req.Model] > allowed {
		return "", errors.Join(llm.ErrExhaustedRetries, &llm.TransportError{Model: req.Model, Err: errors.New("down")})
	}
	return req.Model + " says something helpful", nil
}

func newDual(caller TextCaller, rounds int) *DualGenerator {
	return NewDualGenerator(caller, DualConfig{
		UserModel:  "user-model",
		AgentModel: "agent-model",
		Rounds:     rounds,
		Candidates: 1,
		Logger:     zerolog.Nop(),
	})
}

func TestDualGeneratorAlternatesRolesStartingWithUser(t *testing.T) {
	caller := newFakeTextCaller(map[string]int{"user-model": -1, "agent-model": -1})
	generator := newDual(caller, 3)

	candidates := generator.Generate(context.Background(), []Question{{ID: 1, Text: "I feel burned out"}})
	require.Len(t, candidates, 1)

	dialogue := candidates[0].Output.Dialogue
	require.Len(t, dialogue, 6)
	for i, turn := range dialogue {
		if i%2 == 0 {
			require.Equal(t, llm.RoleUser, turn.Role)
		} else {
			require.Equal(t, llm.RoleAssistant, turn.Role)
		}
	}
	require.Equal(t, ModeDual, candidates[0].Mode)
	require.Equal(t, "user-model", candidates[0].Models.User)
	require.Equal(t, "agent-model", candidates[0].Models.Agent)
}

func TestDualGeneratorDropsCandidateWhenFirstUserCallFails(t *testing.T) {
	caller := newFakeTextCaller(map[string]int{"user-model": 0, "agent-model": -1})
	generator := newDual(caller, 3)

	candidates := generator.Generate(context.Background(), []Question{{ID: 1, Text: "I feel burned out"}})
	require.Empty(t, candidates, "no partial one-sided dialogue may be emitted")
	require.Equal(t, 0, caller.callCount["agent-model"], "agent must not be called after user failure")
}

func TestDualGeneratorStopsAtAgentFailureKeepingHistory(t *testing.T) {
	// User succeeds twice, agent succeeds once then fails: the second
	// round ends the conversation after its user turn.
	caller := newFakeTextCaller(map[string]int{"user-model": -1, "agent-model": 1})
	generator := newDual(caller, 3)

	candidates := generator.Generate(context.Background(), []Question{{ID: 1, Text: "I feel burned out"}})
	require.Len(t, candidates, 1)

	dialogue := candidates[0].Output.Dialogue
	require.Len(t, dialogue, 3)
	require.Equal(t, llm.RoleUser, dialogue[0].Role)
	require.Equal(t, llm.RoleAssistant, dialogue[1].Role)
	require.Equal(t, llm.RoleUser, dialogue[2].Role)
}

func TestDualGeneratorRunsRequestedRounds(t *testing.T) {
	caller := newFakeTextCaller(map[string]int{"user-model": -1, "agent-model": -1})
	generator := newDual(caller, 2)

	candidates := generator.Generate(context.Background(), []Question{{ID: 1, Text: "stress"}})
	require.Len(t, candidates, 1)
	require.Len(t, candidates[0].Output.Dialogue, 4)
	require.Equal(t, 2, caller.callCount["user-model"])
	require.Equal(t, 2, caller.callCount["agent-model"])
}

func TestDualStateMachineTransitions(t *testing.T) {
	caller := newFakeTextCaller(map[string]int{"user-model": -1, "agent-model": -1})
	generator := newDual(caller, 1)

	conv := &conversation{question: "stress", maxRounds: 1, state: stateAwaitingUser}

	generator.advance(context.Background(), conv)
	require.Equal(t, stateAwaitingAgent, conv.state)
	require.Len(t, conv.history, 1)

	generator.advance(context.Background(), conv)
	require.Equal(t, stateRoundComplete, conv.state)
	require.Len(t, conv.history, 2)
	require.Equal(t, 1, conv.completedRounds)

	generator.advance(context.Background(), conv)
	require.Equal(t, stateTerminal, conv.state)

	// Terminal state absorbs further steps.
	generator.advance(context.Background(), conv)
	require.Equal(t, stateTerminal, conv.state)
	require.Len(t, conv.history, 2)
}
