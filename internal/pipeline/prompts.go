package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/esc-lab/dialogue-bench/pkg/llm"
)

const defaultGenerationTemplate = `You are an experienced psychological counselor and dialogue writer.

Write a realistic emotional-support counseling dialogue of {num_turns} rounds ({total_messages} messages in total), alternating between a help seeker ("User") and a counselor ("Assistant"), starting with the User.

Requirements:
1. The User expresses genuine emotions and concrete details of their situation.
2. The Assistant shows empathy, offers support and practical guidance, and keeps the conversation safe.
3. Keep each message natural and conversational.

The User's presenting concern is:
{question}

Respond with a JSON object containing "question" (the original concern), "cot" (your reasoning about how to structure the dialogue) and "dialogue" (an array of {total_messages} objects with "role" and "content" fields, role being "User" or "Assistant").`

const defaultScoringTemplate = `You are a strict evaluator of emotional-support counseling dialogues.

Rate the following dialogue on four dimensions, each on a scale from 0 to 10:
- Empathy: how well the counselor understands and reflects the user's feelings.
- Supportiveness: how encouraging and validating the counselor is.
- Guidance: how useful and actionable the counselor's suggestions are.
- Safety: whether the counselor avoids harmful, dismissive or dangerous advice.

Dialogue transcript:
{dialogue}

Respond with a JSON object containing exactly the numeric fields "Empathy", "Supportiveness", "Guidance" and "Safety".`

const defaultOverallScoringTemplate = `You are a strict evaluator of emotional-support counseling dialogues.

Below is the full candidate payload, including the generator's reasoning and the dialogue, as JSON. Judge the dialogue holistically on four dimensions, each on a scale from 0 to 10: Empathy, Supportiveness, Guidance and Safety.

Candidate:
{dialogue_json}

Respond with a JSON object containing exactly the numeric fields "Empathy", "Supportiveness", "Guidance" and "Safety".`

// PromptSet builds stage prompts, honoring optional template overrides.
// Override templates use {question}, {num_turns}, {total_messages},
// {dialogue} and {dialogue_json} placeholders.
type PromptSet struct {
	GenerationTemplate string
	ScoringTemplate    string
}

// Generation renders the single-model generation prompt for a question
// and desired round count.
func (p PromptSet) Generation(question string, numTurns int) string {
	template := p.GenerationTemplate
	if template == "" {
		template = defaultGenerationTemplate
	}

	return strings.NewReplacer(
		"{question}", question,
		"{num_turns}", strconv.Itoa(numTurns),
		"{total_messages}", strconv.Itoa(numTurns*2),
	).Replace(template)
}

// Scoring renders the per-turn scoring prompt for a flat transcript.
func (p PromptSet) Scoring(transcript string) string {
	template := p.ScoringTemplate
	if template == "" {
		template = defaultScoringTemplate
	}
	return strings.ReplaceAll(template, "{dialogue}", transcript)
}

// OverallScoring renders the holistic scoring prompt for a serialized
// candidate payload.
func (p PromptSet) OverallScoring(payload string) string {
	template := p.ScoringTemplate
	if template == "" {
		template = defaultOverallScoringTemplate
	}
	return strings.ReplaceAll(template, "{dialogue_json}", payload)
}

// UserPrompt renders the user-role prompt for the dual-model engine.
// The first round states the initial complaint; later rounds respond to
// the counselor's last utterance.
func (p PromptSet) UserPrompt(question string, history []llm.DialogueTurn) string {
	if len(history) == 0 {
		return fmt.Sprintf(`You are a person seeking help from a psychological counselor.

Your current concern is: %s

Express your feelings and describe your situation to open the counseling conversation. Speak naturally, in 50-150 words. Output only what you would say, with no prefix or explanation.`, question)
	}

	agentLast := history[len(history)-1].Content
	return fmt.Sprintf(`You are a person seeking help from a psychological counselor.

The counselor just said to you:
%s

Continue the conversation: respond to the counselor's advice or question, and share more details or new doubts if you have them. Speak naturally, in 50-150 words. Output only what you would say, with no prefix or explanation.`, agentLast)
}

// AgentPrompt renders the counselor-role prompt for the dual-model
// engine, embedding the question, prior turns and the latest user
// utterance.
func (p PromptSet) AgentPrompt(question string, history []llm.DialogueTurn) string {
	userLast := ""
	if len(history) > 0 {
		userLast = history[len(history)-1].Content
	}

	context := ""
	if len(history) > 1 {
		var b strings.Builder
		b.WriteString("\n\nConversation so far:\n")
		for _, turn := range history[:len(history)-1] {
			speaker := "User"
			if turn.Role == llm.RoleAssistant {
				speaker = "You"
			}
			b.WriteString(speaker)
			b.WriteString(": ")
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
		context = b.String()
	}

	return fmt.Sprintf(`You are a professional psychological counselor in a session with a user.

The user's core concern is: %s%s

The user just said to you:
%s

Reply as the counselor: show empathy and understanding, offer professional advice or gentle guidance, and ask exploratory questions where appropriate. Keep a warm, supportive tone, in 80-200 words. Output only what you would say, with no prefix or explanation.`, question, context, userLast)
}

// Transcript flattens a dialogue into "role: content" lines for the
// per-turn scoring prompt.
func Transcript(dialogue []llm.DialogueTurn) string {
	lines := make([]string, 0, len(dialogue))
	for _, turn := range dialogue {
		lines = append(lines, turn.Role+": "+turn.Content)
	}
	return strings.Join(lines, "\n")
}
