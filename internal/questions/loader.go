package questions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load reads counseling questions from a .txt or .json file. Text files
// hold one question per line with blank lines skipped. JSON files accept
// three shapes: a plain string array, an object array with a "question"
// or "text" field, or an object wrapping either under "questions". A
// positive limit truncates the result.
func Load(path string, limit int) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question file: %w", err)
	}

	var texts []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		texts, err = parseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	default:
		texts = parseLines(string(raw))
	}

	if limit > 0 && len(texts) > limit {
		texts = texts[:limit]
	}

	return texts, nil
}

func parseLines(raw string) []string {
	var texts []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			texts = append(texts, line)
		}
	}

	return texts
}

func parseJSON(raw []byte) ([]string, error) {
	var wrapper struct {
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Questions != nil {
		raw = wrapper.Questions
	}

	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return dropBlank(plain), nil
	}

	var objects []struct {
		Question string `json:"question"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("unsupported question file shape")
	}

	texts := make([]string, 0, len(objects))
	for _, obj := range objects {
		if obj.Question != "" {
			texts = append(texts, obj.Question)
		} else if obj.Text != "" {
			texts = append(texts, obj.Text)
		}
	}

	return texts, nil
}

func dropBlank(texts []string) []string {
	kept := texts[:0]
	for _, text := range texts {
		if strings.TrimSpace(text) != "" {
			kept = append(kept, text)
		}
	}

	return kept
}
