package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/tools"
)

// fakeProvider replays a scripted sequence of responses. When the script
// runs out it keeps repeating the last entry, which lets tests exercise the
// iteration budget.
type fakeProvider struct {
	script []providers.ChatResponse
	calls  int
}

func (f *fakeProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	resp := f.script[idx]
	return &resp, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

type fakeEngine struct {
	mu      sync.Mutex
	queries []string
	result  *analytics.QueryResult
	err     error
}

func (f *fakeEngine) ExecuteQuery(_ context.Context, _, _, query string) (*analytics.QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestRegistry(engine *fakeEngine) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewQueryTool(engine, "conn-1", "ds-1", "Vendas"))
	return reg
}

func toolCallResponse(query string) providers.ChatResponse {
	return providers.ChatResponse{
		ToolCalls: []providers.ToolCall{{
			ID:        "call-1",
			Name:      tools.QueryToolName,
			Arguments: map[string]interface{}{"consulta": query},
		}},
		FinishReason: "tool_calls",
	}
}

func TestRunAnswersAfterOneToolRound(t *testing.T) {
	engine := &fakeEngine{result: &analytics.QueryResult{
		Columns: []string{"total"},
		Rows:    [][]interface{}{{"1500"}},
	}}
	provider := &fakeProvider{script: []providers.ChatResponse{
		toolCallResponse("total de vendas ontem"),
		{Content: "O total de vendas de ontem foi de R$ 1.500,00.", FinishReason: "stop"},
	}}

	loop := NewLoop(provider, "", newTestRegistry(engine))
	answer, err := loop.Run(context.Background(), Turn{
		Tier:     TierFor(1),
		System:   "system",
		Question: "quanto vendemos ontem?",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(answer, "1.500") {
		t.Fatalf("unexpected answer %q", answer)
	}
	if len(engine.queries) != 1 || engine.queries[0] != "total de vendas ontem" {
		t.Fatalf("unexpected engine queries %v", engine.queries)
	}
	if provider.calls != 2 {
		t.Fatalf("expected 2 model calls, got %d", provider.calls)
	}
}

func TestRunHonorsIterationBudget(t *testing.T) {
	// The model keeps asking for another query forever; the tier budget
	// must bound the number of rounds.
	cases := []struct {
		level     int
		maxRounds int
	}{
		{0, 2},
		{3, 5},
	}
	for _, tc := range cases {
		engine := &fakeEngine{result: &analytics.QueryResult{Columns: []string{"x"}}}
		provider := &fakeProvider{script: []providers.ChatResponse{
			toolCallResponse("mais uma consulta"),
		}}

		loop := NewLoop(provider, "", newTestRegistry(engine))
		_, err := loop.Run(context.Background(), Turn{
			Tier:     TierFor(tc.level),
			System:   "system",
			Question: "pergunta",
		})
		if err != nil {
			t.Fatalf("tier %d: Run: %v", tc.level, err)
		}
		if provider.calls != tc.maxRounds {
			t.Fatalf("tier %d: expected %d model calls, got %d", tc.level, tc.maxRounds, provider.calls)
		}
		if len(engine.queries) != tc.maxRounds {
			t.Fatalf("tier %d: expected %d tool executions, got %d", tc.level, tc.maxRounds, len(engine.queries))
		}
	}
}

func TestRunBudgetExhaustionKeepsLastText(t *testing.T) {
	engine := &fakeEngine{result: &analytics.QueryResult{Columns: []string{"x"}}}
	withText := toolCallResponse("consulta")
	withText.Content = "Resposta parcial até aqui."
	provider := &fakeProvider{script: []providers.ChatResponse{withText}}

	loop := NewLoop(provider, "", newTestRegistry(engine))
	answer, err := loop.Run(context.Background(), Turn{
		Tier:     TierFor(0),
		System:   "system",
		Question: "pergunta",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "Resposta parcial até aqui." {
		t.Fatalf("expected partial answer to survive exhaustion, got %q", answer)
	}
}

func TestRunFeedsToolErrorBackToModel(t *testing.T) {
	engine := &fakeEngine{err: context.DeadlineExceeded}
	provider := &fakeProvider{script: []providers.ChatResponse{
		toolCallResponse("consulta ruim"),
		{Content: "Não consegui obter esse dado agora, tente novamente em instantes.", FinishReason: "stop"},
	}}

	loop := NewLoop(provider, "", newTestRegistry(engine))
	answer, err := loop.Run(context.Background(), Turn{
		Tier:     TierFor(1),
		System:   "system",
		Question: "pergunta",
	})
	if err != nil {
		t.Fatalf("a tool failure must not fail the turn: %v", err)
	}
	if strings.Contains(answer, "deadline") {
		t.Fatalf("raw error leaked into the answer: %q", answer)
	}
}

func TestRunParallelToolCallsKeepOrder(t *testing.T) {
	engine := &fakeEngine{result: &analytics.QueryResult{Columns: []string{"x"}}}
	provider := &fakeProvider{script: []providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "a", Name: tools.QueryToolName, Arguments: map[string]interface{}{"consulta": "q1"}},
				{ID: "b", Name: tools.QueryToolName, Arguments: map[string]interface{}{"consulta": "q2"}},
				{ID: "c", Name: tools.QueryToolName, Arguments: map[string]interface{}{"consulta": "q3"}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "Pronto, aqui está o resumo consolidado dos dados.", FinishReason: "stop"},
	}}

	loop := NewLoop(provider, "", newTestRegistry(engine))
	if _, err := loop.Run(context.Background(), Turn{
		Tier:     TierFor(2),
		System:   "system",
		Question: "pergunta",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(engine.queries) != 3 {
		t.Fatalf("expected 3 tool executions, got %d", len(engine.queries))
	}
}

func TestRunEmitsChildSpansForModelAndTools(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	engine := &fakeEngine{result: &analytics.QueryResult{Columns: []string{"total"}}}
	provider := &fakeProvider{script: []providers.ChatResponse{
		toolCallResponse("total de vendas"),
		{Content: "O total consolidado está na consulta acima, tudo certo.", FinishReason: "stop"},
	}}

	loop := NewLoop(provider, "", newTestRegistry(engine))
	if _, err := loop.Run(context.Background(), Turn{
		Tier:     TierFor(1),
		System:   "system",
		Question: "quanto vendemos?",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var chats, toolSpans int
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "llm.chat":
			chats++
		case "tool." + tools.QueryToolName:
			toolSpans++
		}
	}
	if chats != 2 {
		t.Fatalf("llm.chat spans = %d, want 2", chats)
	}
	if toolSpans != 1 {
		t.Fatalf("tool spans = %d, want 1", toolSpans)
	}
}
