package gemini

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/feichai0017/remi2ai/internal/apperr"
)

// ParseSchema decodes the configured response schema JSON. Type names are
// upper-cased so both "object" and "OBJECT" are accepted.
func ParseSchema(text string) (*genai.Schema, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindInvalidSchema, "message", "response schema is empty")
	}

	var schema genai.Schema
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidSchema, err)
	}
	normalizeTypes(&schema)

	if schema.Type != genai.TypeObject || len(schema.Properties) == 0 {
		return nil, apperr.New(apperr.KindInvalidSchema, "message", "response schema must be an object with properties")
	}
	return &schema, nil
}

func normalizeTypes(s *genai.Schema) {
	if s == nil {
		return
	}
	s.Type = genai.Type(strings.ToUpper(string(s.Type)))
	for _, p := range s.Properties {
		normalizeTypes(p)
	}
	normalizeTypes(s.Items)
}
