package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// minAnswerChars is the floor below which a cleaned answer is replaced by
// the stock apology, so the user never receives an empty or truncated stub.
const minAnswerChars = 20

const fallbackApology = "Desculpe, não consegui montar uma resposta agora. Pode reformular a pergunta?"

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?.*?(```|$)")
	htmlTagPattern     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	errorLinePattern   = regexp.MustCompile(`(?m)^\s*(Error|Erro):.*$`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// Sanitize cleans the model's final text for delivery: residual query code
// blocks, HTML-ish tags and echoed error lines are stripped, blank runs are
// collapsed and the result is truncated to the tier's ceiling. Degenerately
// short output is replaced with the stock apology.
func Sanitize(text string, ceiling int) string {
	original := text

	text = fencedBlockPattern.ReplaceAllString(text, "")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = errorLinePattern.ReplaceAllString(text, "")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if runes := []rune(text); ceiling > 0 && len(runes) > ceiling {
		text = strings.TrimSpace(string(runes[:ceiling-1])) + "…"
	}

	if len([]rune(text)) < minAnswerChars {
		slog.Debug("sanitized answer too short, using fallback",
			"original_len", len(original), "cleaned_len", len(text))
		return fallbackApology
	}

	if text != original {
		slog.Debug("sanitized answer", "original_len", len(original), "cleaned_len", len(text))
	}
	return text
}
