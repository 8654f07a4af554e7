package agent

import (
	"strings"
	"testing"
)

func TestSanitizeStripsFencesAndErrorLines(t *testing.T) {
	in := "As vendas de ontem somaram R$ 12.340,00.\n\n```sql\nSELECT SUM(total) FROM vendas\n```\n\nError: timeout contacting engine\n\nIsso representa alta de 8% sobre o dia anterior."
	out := Sanitize(in, 600)

	if strings.Contains(out, "SELECT") || strings.Contains(out, "```") {
		t.Fatalf("code fence survived: %q", out)
	}
	if strings.Contains(out, "Error:") {
		t.Fatalf("error line survived: %q", out)
	}
	if !strings.Contains(out, "R$ 12.340,00") || !strings.Contains(out, "8%") {
		t.Fatalf("answer content lost: %q", out)
	}
	if len([]rune(out)) > 600 {
		t.Fatalf("output above ceiling: %d runes", len([]rune(out)))
	}
}

func TestSanitizeStripsHTMLTags(t *testing.T) {
	out := Sanitize("O faturamento foi de <b>R$ 10.000,00</b> no período analisado.", 600)
	if strings.Contains(out, "<b>") || strings.Contains(out, "</b>") {
		t.Fatalf("html tags survived: %q", out)
	}
	if !strings.Contains(out, "R$ 10.000,00") {
		t.Fatalf("content lost: %q", out)
	}
}

func TestSanitizeCollapsesBlankRuns(t *testing.T) {
	out := Sanitize("Primeira linha do resumo.\n\n\n\n\nSegunda linha do resumo.", 600)
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("blank run survived: %q", out)
	}
}

func TestSanitizeTruncatesWithEllipsis(t *testing.T) {
	long := strings.Repeat("vendas em alta no período ", 60)
	out := Sanitize(long, 200)
	if n := len([]rune(out)); n > 200 {
		t.Fatalf("output above ceiling: %d runes", n)
	}
	if !strings.HasSuffix(out, "…") {
		t.Fatalf("truncated output missing ellipsis: %q", out)
	}
}

func TestSanitizeEmptyReturnsApology(t *testing.T) {
	for _, in := range []string{"", "   ", "```\nSELECT 1\n```", "ok"} {
		out := Sanitize(in, 600)
		if out != fallbackApology {
			t.Fatalf("Sanitize(%q) = %q, want stock apology", in, out)
		}
	}
}
