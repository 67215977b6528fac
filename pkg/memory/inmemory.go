// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemory implements Conversation in process memory. Data is lost on restart.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string][]Message
	maxPer   int
}

// NewInMemory creates an in-memory store. maxPerSession > 0 caps how many
// messages each session retains; older ones are dropped.
func NewInMemory(maxPerSession int) *InMemory {
	return &InMemory{
		sessions: make(map[string][]Message),
		maxPer:   maxPerSession,
	}
}

// Append implements Conversation.
func (m *InMemory) Append(_ context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.sessions[sessionID], msg)
	if m.maxPer > 0 && len(msgs) > m.maxPer {
		msgs = append([]Message(nil), msgs[len(msgs)-m.maxPer:]...)
	}
	m.sessions[sessionID] = msgs
	return nil
}

// Recent implements Conversation.
func (m *InMemory) Recent(_ context.Context, sessionID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Message, len(all))
	copy(out, all)
	return out, nil
}

// Clear implements Conversation.
func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Sessions returns the ids of sessions with messages, sorted.
func (m *InMemory) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
