package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/telemetry"
	"github.com/zapbi/zapbi/internal/tools"
)

var tracer = telemetry.Tracer("github.com/zapbi/zapbi/internal/agent")

// Loop is the bounded tool-calling state machine for one turn:
// AWAITING_MODEL → EXECUTING_TOOLS → AWAITING_MODEL → … → DONE.
// The iteration cap is the tier's, never a global constant, because the
// query tool runs against a billed external engine.
type Loop struct {
	provider providers.Provider
	model    string
	registry *tools.Registry
}

func NewLoop(provider providers.Provider, model string, registry *tools.Registry) *Loop {
	if model == "" {
		model = provider.DefaultModel()
	}
	return &Loop{provider: provider, model: model, registry: registry}
}

// Turn carries everything one execution needs. History is oldest-first and
// already trimmed to the tier's depth.
type Turn struct {
	Tier     Tier
	System   string
	History  []providers.Message
	Question string
}

// Run drives the conversation until the model answers in plain text, a
// round produces zero tool calls, or the tier's iteration budget runs out.
// An exhausted budget is not an error: the last text the model produced is
// the answer, even if partial.
func (l *Loop) Run(ctx context.Context, turn Turn) (string, error) {
	messages := make([]providers.Message, 0, len(turn.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: turn.System})
	messages = append(messages, turn.History...)
	messages = append(messages, providers.Message{Role: "user", Content: turn.Question})

	toolDefs := l.registry.ProviderDefs()
	var lastText string

	for iteration := 1; iteration <= turn.Tier.MaxIterations; iteration++ {
		slog.Debug("agent iteration",
			"iteration", iteration, "budget", turn.Tier.MaxIterations, "messages", len(messages))

		resp, err := l.chat(ctx, iteration, messages, toolDefs, turn.Tier)
		if err != nil {
			return "", fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}

		if resp.Content != "" {
			lastText = resp.Content
		}

		// Zero tool calls ends the turn: the model answered directly.
		if len(resp.ToolCalls) == 0 {
			return lastText, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, l.executeRound(ctx, resp.ToolCalls)...)
	}

	slog.Info("iteration budget exhausted", "budget", turn.Tier.MaxIterations, "has_text", lastText != "")
	return lastText, nil
}

// chat performs one model call inside its own span.
func (l *Loop) chat(ctx context.Context, iteration int, messages []providers.Message, toolDefs []providers.ToolDefinition, tier Tier) (*providers.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.model", l.model),
		attribute.Int("llm.iteration", iteration),
	))
	defer span.End()

	resp, err := l.provider.Chat(ctx, providers.ChatRequest{
		Model:    l.model,
		Messages: messages,
		Tools:    toolDefs,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   tier.OutputCeiling,
			providers.OptTemperature: 0.4,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.String("llm.finish_reason", resp.FinishReason),
	)
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, nil
}

// executeRound runs all tool calls of one round. Calls within a round are
// independent reads against the analytics engine, so multiple calls run
// concurrently; results keep the model's original call order so the
// transcript stays deterministic.
func (l *Loop) executeRound(ctx context.Context, calls []providers.ToolCall) []providers.Message {
	results := make([]*tools.Result, len(calls))

	if len(calls) == 1 {
		results[0] = l.executeCall(ctx, calls[0])
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, tc := range calls {
			i, tc := i, tc
			g.Go(func() error {
				results[i] = l.executeCall(gctx, tc)
				return nil
			})
		}
		// Tool failures travel in the results, never as goroutine errors.
		_ = g.Wait()
	}

	return l.roundMessages(calls, results)
}

// executeCall dispatches one tool call inside its own span.
func (l *Loop) executeCall(ctx context.Context, tc providers.ToolCall) *tools.Result {
	ctx, span := tracer.Start(ctx, "tool."+tc.Name)
	defer span.End()

	result := l.registry.Execute(ctx, tc.Name, tc.Arguments)
	if result.IsError {
		span.SetStatus(codes.Error, result.ForLLM)
	}
	return result
}

func (l *Loop) roundMessages(calls []providers.ToolCall, results []*tools.Result) []providers.Message {
	msgs := make([]providers.Message, 0, len(calls))
	for i, tc := range calls {
		result := results[i]
		if result.IsError {
			// Fed back into the transcript so the model can adapt or
			// retry; never surfaced to the user.
			slog.Warn("tool error", "tool", tc.Name, "error", result.ForLLM)
		} else {
			slog.Debug("tool result", "tool", tc.Name, "len", len(result.ForLLM))
		}
		msgs = append(msgs, providers.Message{
			Role:       "tool",
			Content:    result.ForLLM,
			ToolCallID: tc.ID,
		})
	}
	return msgs
}
