package agent

import (
	"fmt"
	"strings"

	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/store"
)

// maxModelDocChars caps the knowledge blob injected into the system prompt.
const maxModelDocChars = 8000

const personaPrompt = `Você é um assistente de inteligência de negócios que responde perguntas sobre os dados da empresa pelo WhatsApp.

Regras obrigatórias:
- NUNCA invente números ou fatos. Todo valor citado deve vir do resultado de uma consulta executada pela ferramenta disponível.
- Se a ferramenta retornar erro, ajuste a consulta e tente de novo, ou explique em linguagem simples que não foi possível obter o dado.
- Nunca revele identificadores internos, nomes de conexões, credenciais ou detalhes técnicos do sistema.
- Responda sempre em português do Brasil, em tom direto e cordial.
- Não use tabelas, blocos de código ou HTML na resposta final. Texto corrido e, no máximo, listas curtas.
- Mantenha a resposta final com até %d caracteres.`

// BuildSystemPrompt assembles the system instruction for one turn: persona
// and hard rules, the dataset being queried, the capped knowledge doc and
// the tier's output ceiling.
func BuildSystemPrompt(tier Tier, datasetName, modelDoc string) string {
	var b strings.Builder
	fmt.Fprintf(&b, personaPrompt, tier.OutputCeiling)
	fmt.Fprintf(&b, "\n\nBase de dados em uso: %s.", datasetName)

	if modelDoc != "" {
		doc := modelDoc
		if runes := []rune(doc); len(runes) > maxModelDocChars {
			doc = string(runes[:maxModelDocChars])
		}
		b.WriteString("\n\nDocumentação do modelo de dados:\n")
		b.WriteString(doc)
	}
	return b.String()
}

// RenderHistory converts the rolling message log into chat messages, oldest
// first, keeping at most depth entries from the tail.
func RenderHistory(history []store.Message, depth int) []providers.Message {
	if len(history) > depth {
		history = history[len(history)-depth:]
	}
	out := make([]providers.Message, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Direction == store.DirectionOut {
			role = "assistant"
		}
		out = append(out, providers.Message{Role: role, Content: m.Content})
	}
	return out
}
