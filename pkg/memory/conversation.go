// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores per-session conversation history used to give the
// classifier recent context.
package memory

import (
	"context"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
)

// Roles stored in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation stores ordered messages per session.
type Conversation interface {
	// Append adds a message to the end of the session.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Recent returns the last limit messages, oldest first.
	// A limit <= 0 returns the whole session.
	Recent(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}

// Turns converts stored messages into classifier history.
func Turns(msgs []Message) []core.Turn {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]core.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.Turn{Role: m.Role, Content: m.Content})
	}
	return out
}
