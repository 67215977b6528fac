package core

import "errors"

// CallerContext identifies who is asking. The engine passes it through to
// every executor invocation unchanged.
type CallerContext struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	Location  string            `json:"location,omitempty"`
	Role      string            `json:"role,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks that a caller identifier is present.
func (c CallerContext) Validate() error {
	if c.ID == "" {
		return errors.New("caller id is required")
	}
	return nil
}

// Turn is one message of recent conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Situation is optional context for classification.
type Situation struct {
	Location string `json:"location,omitempty"`
	Role     string `json:"role,omitempty"`
	History  []Turn `json:"history,omitempty"`
}
