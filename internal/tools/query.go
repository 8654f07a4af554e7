package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/providers"
)

// QueryToolName is the identifier declared to the LLM.
const QueryToolName = "executar_consulta"

// QueryTool executes one analytical query against the engine, scoped to the
// (connection, dataset) resolved for the current turn. A new instance is
// built per turn so the model never chooses the scope itself.
type QueryTool struct {
	engine       analytics.Engine
	connectionID string
	datasetID    string
	datasetName  string
}

func NewQueryTool(engine analytics.Engine, connectionID, datasetID, datasetName string) *QueryTool {
	return &QueryTool{
		engine:       engine,
		connectionID: connectionID,
		datasetID:    datasetID,
		datasetName:  datasetName,
	}
}

func (t *QueryTool) Name() string { return QueryToolName }

func (t *QueryTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name: QueryToolName,
			Description: fmt.Sprintf(
				"Executa uma consulta analítica sobre o conjunto de dados %q e retorna as linhas do resultado. "+
					"Use sempre que precisar de um número, total, ranking ou série histórica.",
				t.datasetName),
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"consulta": map[string]interface{}{
						"type":        "string",
						"description": "Texto da consulta a executar sobre o conjunto de dados.",
					},
				},
				"required": []string{"consulta"},
			},
		},
	}
}

func (t *QueryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["consulta"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("a consulta está vazia; envie o texto da consulta no campo 'consulta'")
	}

	result, err := t.engine.ExecuteQuery(ctx, t.connectionID, t.datasetID, query)
	if err != nil {
		// The error text goes back into the transcript so the model can
		// adapt or retry with a different query. Never shown to the user.
		slog.Warn("query tool execution failed",
			"connection", t.connectionID, "dataset", t.datasetID, "error", err)
		return ErrorResult(fmt.Sprintf("erro na execução da consulta: %v", err))
	}

	return NewResult(result.RenderForModel())
}
