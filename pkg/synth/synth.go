// Package synth produces the natural-language reply for an executed plan.
package synth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/switchboard/pkg/core"
	"github.com/jllopis/switchboard/pkg/errors"
	"github.com/jllopis/switchboard/pkg/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FallbackReply is what a boundary shows when synthesis fails after tasks ran.
const FallbackReply = "Your request was processed, but I couldn't summarize the results."

// Synthesizer turns an intent and its settled tasks into a reply.
type Synthesizer struct {
	svc    llm.Service
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Synthesizer. A nil logger uses slog.Default.
func New(svc llm.Service, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{svc: svc, logger: logger, tracer: otel.Tracer("switchboard/synth")}
}

// Synthesize issues one model call with every task, failed ones included.
// Call errors and blank replies are SYNTHESIS_FAILED.
func (s *Synthesizer) Synthesize(ctx context.Context, message string, in *core.Intent, plan *core.ExecutionPlan) (string, error) {
	ctx, span := s.tracer.Start(ctx, "synth.synthesize")
	defer span.End()

	fail := func(msg string, cause error) (string, error) {
		err := errors.New(errors.CodeSynthesis, msg, cause)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return "", err
	}

	if in == nil || plan == nil {
		return fail("intent and plan are required", nil)
	}
	if err := ctx.Err(); err != nil {
		return fail("synthesis cancelled", err)
	}

	reply, err := s.svc.Synthesize(ctx, llm.SynthesisRequest{
		Message: message,
		Intent:  *in,
		Tasks:   plan.Tasks,
	})
	if err != nil {
		return fail("language model call failed", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fail("empty reply", nil)
	}

	span.SetAttributes(attribute.Int("switchboard.reply.length", len(reply)))
	s.logger.InfoContext(ctx, "synth.reply", "label", in.Label, "length", len(reply))
	return reply, nil
}
