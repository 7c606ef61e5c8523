package llm

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Dialogue role tags accepted on the wire.
const (
	RoleUser      = "User"
	RoleAssistant = "Assistant"
)

// Named schemas enforced on structured replies.
const (
	SchemaGenerationOutput = "generation_output"
	SchemaEvaluationOutput = "evaluation_output"
)

// DialogueTurn is one utterance of a generated counseling dialogue.
type DialogueTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationOutput is the structured reply of a generation call: the
// model's reasoning plus the full dialogue.
type GenerationOutput struct {
	Question string         `json:"question"`
	CoT      string         `json:"cot"`
	Dialogue []DialogueTurn `json:"dialogue"`
}

// EvaluationOutput is the structured reply of a scoring call. Every
// dimension is bounded to [0,10].
type EvaluationOutput struct {
	Empathy        float64 `json:"Empathy"`
	Supportiveness float64 `json:"Supportiveness"`
	Guidance       float64 `json:"Guidance"`
	Safety         float64 `json:"Safety"`
}

const generationOutputSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["cot", "dialogue"],
	"properties": {
		"question": {"type": "string"},
		"cot": {"type": "string"},
		"dialogue": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"enum": ["User", "Assistant"]},
					"content": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

const evaluationOutputSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["Empathy", "Supportiveness", "Guidance", "Safety"],
	"properties": {
		"Empathy": {"type": "number", "minimum": 0, "maximum": 10},
		"Supportiveness": {"type": "number", "minimum": 0, "maximum": 10},
		"Guidance": {"type": "number", "minimum": 0, "maximum": 10},
		"Safety": {"type": "number", "minimum": 0, "maximum": 10}
	}
}`

var (
	compiledGenerationSchema = jsonschema.MustCompileString(SchemaGenerationOutput+".json", generationOutputSchema)
	compiledEvaluationSchema = jsonschema.MustCompileString(SchemaEvaluationOutput+".json", evaluationOutputSchema)
)

// ParseGenerationOutput normalizes, validates and decodes a raw reply
// into a GenerationOutput. Field aliases are mapped in a single
// normalization step before validation, so callers never branch on
// which key the model emitted.
func ParseGenerationOutput(model, raw string) (*GenerationOutput, error) {
	doc, err := decodeReply(model, SchemaGenerationOutput, raw)
	if err != nil {
		return nil, err
	}

	normalizeDialogueAliases(doc)

	if err := compiledGenerationSchema.Validate(doc); err != nil {
		return nil, &ValidationError{Model: model, Schema: SchemaGenerationOutput, Reason: err.Error()}
	}

	var out GenerationOutput
	if err := reencode(doc, &out); err != nil {
		return nil, &ValidationError{Model: model, Schema: SchemaGenerationOutput, Reason: err.Error()}
	}

	return &out, nil
}

// ParseEvaluationOutput validates and decodes a raw scoring reply.
func ParseEvaluationOutput(model, raw string) (*EvaluationOutput, error) {
	doc, err := decodeReply(model, SchemaEvaluationOutput, raw)
	if err != nil {
		return nil, err
	}

	if err := compiledEvaluationSchema.Validate(doc); err != nil {
		return nil, &ValidationError{Model: model, Schema: SchemaEvaluationOutput, Reason: err.Error()}
	}

	var out EvaluationOutput
	if err := reencode(doc, &out); err != nil {
		return nil, &ValidationError{Model: model, Schema: SchemaEvaluationOutput, Reason: err.Error()}
	}

	return &out, nil
}

func decodeReply(model, schema, raw string) (interface{}, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &ValidationError{Model: model, Schema: schema, Reason: fmt.Sprintf("reply is not valid JSON: %v", err)}
	}
	return doc, nil
}

// normalizeDialogueAliases maps the legacy "message" turn field onto
// "content" when content is missing or empty. Models occasionally emit
// either key; downstream code only ever sees "content".
func normalizeDialogueAliases(doc interface{}) {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return
	}

	turns, ok := root["dialogue"].([]interface{})
	if !ok {
		return
	}

	for _, item := range turns {
		turn, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		content, _ := turn["content"].(string)
		if content != "" {
			continue
		}

		if message, ok := turn["message"].(string); ok && message != "" {
			turn["content"] = message
		}
	}
}

func reencode(doc interface{}, target interface{}) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, target)
}
