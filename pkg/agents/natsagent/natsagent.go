// Package natsagent hands agent actions to workers over NATS JetStream.
//
// An action is published on "<subject>.<action>" and is considered done once
// the stream acknowledges it; the result is the publish acknowledgement, not
// the worker's eventual outcome.
package natsagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/jllopis/switchboard/pkg/bus"
	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
)

// Command is the message body published for every action.
type Command struct {
	Action string             `json:"action"`
	Params map[string]any     `json:"params"`
	Caller core.CallerContext `json:"caller"`
	RunID  string             `json:"run_id,omitempty"`
	TaskID string             `json:"task_id,omitempty"`
}

// Agent is a registry.Executor that publishes commands to JetStream.
type Agent struct {
	pub     bus.Publisher
	subject string
}

// New creates an Agent publishing under subject.
func New(pub bus.Publisher, subject string) (*Agent, error) {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if pub == nil {
		return nil, errors.New(errors.CodeInvalidInput, "nats publisher is required", nil)
	}
	if subject == "" || strings.ContainsAny(subject, "*> ") {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid agent subject %q", subject), nil)
	}
	return &Agent{pub: pub, subject: subject}, nil
}

// Subject returns the subject an action is published on.
func (a *Agent) Subject(action string) string {
	return a.subject + "." + action
}

// Execute implements registry.Executor. The message id "<run_id>-<task_id>"
// lets the stream drop a republished command within its duplicate window.
func (a *Agent) Execute(ctx context.Context, action string, params map[string]any, caller core.CallerContext) (any, error) {
	runID, _ := core.RunID(ctx)
	taskID, _ := core.TaskID(ctx)
	cmd := Command{
		Action: action,
		Params: params,
		Caller: caller,
		RunID:  runID,
		TaskID: taskID,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "encode agent command", err)
	}

	msg := nats.NewMsg(a.Subject(action))
	msg.Data = data
	msgID := messageID(cmd.RunID, cmd.TaskID)
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}

	ack, err := a.pub.PublishMsg(ctx, msg)
	if err != nil {
		return nil, errors.New(errors.CodeExecution, "publish agent command", err)
	}
	return map[string]any{
		"stream":    ack.Stream,
		"sequence":  ack.Sequence,
		"subject":   msg.Subject,
		"msg_id":    msgID,
		"duplicate": ack.Duplicate,
	}, nil
}

func messageID(runID, taskID string) string {
	switch {
	case runID != "" && taskID != "":
		return runID + "-" + taskID
	case taskID != "":
		return taskID
	}
	return ""
}
