package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var flatObject = regexp.MustCompile(`\{[^{}]*\}`)

// ExtractJSON decodes the first JSON object found in a model reply into v.
// It tries the whole reply, then the span from the first '{' to the last
// '}', then each flat object in turn. Markdown code fences are stripped first.
func ExtractJSON(text string, v any) error {
	s := stripFences(strings.TrimSpace(text))
	if s == "" {
		return fmt.Errorf("empty reply")
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(s[start:end+1]), v); err == nil {
			return nil
		}
	}
	for _, m := range flatObject.FindAllString(s, -1) {
		if err := json.Unmarshal([]byte(m), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no JSON object in reply")
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
