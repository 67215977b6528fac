package core

import (
	"fmt"
	"strings"
)

// Priority is the urgency assigned to an intent.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// DefaultClarificationThreshold is the confidence below which a boundary
// usually asks the caller to clarify.
const DefaultClarificationThreshold = 0.5

// ParsePriority accepts urgent|normal|low in any case plus the triage
// vocabulary high and medium. An empty value means normal.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return PriorityNormal, nil
	case "urgent", "high", "critical":
		return PriorityUrgent, nil
	case "normal", "medium":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// Intent is the structured interpretation of a natural-language request.
type Intent struct {
	Label      string         `json:"label"`
	AgentKeys  []string       `json:"agent_keys"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   Priority       `json:"priority"`
	Confidence float64        `json:"confidence"`
}

// BelowThreshold reports whether the intent confidence is under threshold.
func (i Intent) BelowThreshold(threshold float64) bool {
	return i.Confidence < threshold
}
