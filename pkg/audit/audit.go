// Package audit keeps a durable trail of settled tasks.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/switchboard/pkg/core"
)

// Record is one settled task.
type Record struct {
	RunID      string    `json:"run_id"`
	TaskID     string    `json:"task_id"`
	AgentKey   string    `json:"agent_key"`
	Action     string    `json:"action"`
	CallerID   string    `json:"caller_id,omitempty"`
	Path       string    `json:"path"` // orchestrated or direct
	Status     string    `json:"status"`
	Result     any       `json:"result,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FromTask builds a Record from a settled task.
func FromTask(runID, path string, caller core.CallerContext, task *core.Task) Record {
	rec := Record{
		RunID:    runID,
		TaskID:   task.ID,
		AgentKey: task.AgentKey,
		Action:   task.Action,
		CallerID: caller.ID,
		Path:     path,
		Status:   string(task.Status),
	}
	if task.Result != nil {
		rec.Result = task.Result.Value
	}
	if task.Error != nil {
		rec.ErrorCode = string(task.Error.Code)
		rec.Error = task.Error.Message
	}
	rec.StartedAt = task.StartedAt
	rec.FinishedAt = task.FinishedAt
	return rec
}

// Store persists audit records.
type Store interface {
	Record(ctx context.Context, rec Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter limits List queries. Zero fields match everything.
type Filter struct {
	RunID    string
	AgentKey string
	Status   string
	Limit    int
}

func (f Filter) match(r Record) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.AgentKey != "" && r.AgentKey != f.AgentKey {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// MemoryStore keeps records in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends rec.
func (s *MemoryStore) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns matching records in insertion order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if !filter.match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeResult(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeResult(raw string) any {
	if raw == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return raw
	}
	return out
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
