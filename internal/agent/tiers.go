// Package agent runs the bounded tool-calling conversation between the
// language model and the analytics engine, plus the surrounding pieces:
// effort classification, prompt assembly and response sanitization.
package agent

import (
	"math/rand"
	"regexp"
	"strings"
)

// Tier is one discrete effort level. Higher tiers get more history, more
// tool-call rounds and a longer answer ceiling.
type Tier struct {
	Level         int
	HistoryDepth  int // messages of rolling history supplied to the model
	MaxIterations int // hard cap on tool-call rounds
	OutputCeiling int // answer length ceiling in characters
	SendFiller    bool
}

var tiers = [4]Tier{
	{Level: 0, HistoryDepth: 4, MaxIterations: 2, OutputCeiling: 600},
	{Level: 1, HistoryDepth: 8, MaxIterations: 3, OutputCeiling: 900, SendFiller: true},
	{Level: 2, HistoryDepth: 12, MaxIterations: 4, OutputCeiling: 1200, SendFiller: true},
	{Level: 3, HistoryDepth: 20, MaxIterations: 5, OutputCeiling: 1600, SendFiller: true},
}

// TierFor returns the tier for a level, clamped to the valid range.
func TierFor(level int) Tier {
	if level < 0 {
		level = 0
	}
	if level > 3 {
		level = 3
	}
	return tiers[level]
}

// Analytical-intent vocabulary. The score counts distinct matched
// categories, not individual keyword hits.
var intentCategories = map[string][]string{
	"comparison": {"comparar", "comparação", "comparativo", "diferença", "versus", " vs "},
	"trend":      {"evolução", "tendência", "crescimento", "queda", "ao longo"},
	"causal":     {"por que", "porque", "motivo", "razão", "explique", "explica"},
	"range":      {"últimos", "última", "desde", "histórico", "período"},
	"variance":   {"variação", "variou", "desvio", "oscilação"},
	"projection": {"projeção", "previsão", "estimativa", "expectativa"},
	"ranking":    {"maior", "menor", "melhores", "piores", "ranking", "top"},
	"breakdown":  {"por mês", "por produto", "por região", "por loja", "detalhado", "detalhamento"},
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

var universalQuantifiers = []string{"todos", "todas", "cada ", "qualquer"}

// Classify scores the message text against the intent vocabulary and maps
// the score to an effort tier.
func Classify(text string) Tier {
	lower := strings.ToLower(text)

	score := 0
	for _, keywords := range intentCategories {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
				break
			}
		}
	}

	if strings.Contains(lower, "versus") || strings.Contains(lower, " vs ") {
		score++
	}
	if yearPattern.MatchString(lower) {
		score++
	}
	for _, q := range universalQuantifiers {
		if strings.Contains(lower, q) {
			score++
			break
		}
	}

	switch {
	case score == 0:
		return tiers[0]
	case score == 1:
		return tiers[1]
	case score <= 3:
		return tiers[2]
	default:
		return tiers[3]
	}
}

var fillerPhrases = []string{
	"Só um instante, estou analisando os dados... 🔎",
	"Deixa eu verificar isso nos dados, já te respondo.",
	"Um momento, analisando as informações...",
	"Boa pergunta! Consultando os dados agora.",
}

// FillerNotice returns one of the "this may take a moment" phrasings at
// random, so higher-tier turns do not feel silent or robotic.
func FillerNotice() string {
	return fillerPhrases[rand.Intn(len(fillerPhrases))]
}
