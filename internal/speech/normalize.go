package speech

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxSpeechChars is the hard ceiling applied before synthesis.
const DefaultMaxSpeechChars = 1500

// Speakable rewrites answer text into something a TTS voice can read
// naturally in Brazilian Portuguese: currency and percentage figures become
// spoken magnitude phrases, decoration is dropped, and line breaks collapse
// into sentence punctuation. The result is truncated to maxChars runes.
func Speakable(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxSpeechChars
	}

	s := stripEmoji(text)
	s = stripDecoration(s)
	s = expandCurrency(s)
	s = expandPercent(s)
	s = expandGroupedIntegers(s)
	s = collapseLines(s)

	runes := []rune(s)
	if len(runes) > maxChars {
		s = strings.TrimSpace(string(runes[:maxChars]))
	}
	return s
}

// --- emoji and decoration ---

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows and stars used as bullets
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, ZWJ
		return true
	}
	return false
}

func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isEmoji(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	// Horizontal-rule style lines and inline runs of dash/line glyphs.
	ruleLinePattern   = regexp.MustCompile(`(?m)^[ \t]*[-=_*~•─━—]{3,}[ \t]*$`)
	ruleInlinePattern = regexp.MustCompile(`[-=_─━]{3,}`)
	// Markdown leftovers: emphasis, inline code, headings, bullets.
	emphasisPattern = regexp.MustCompile("[*_`]+")
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}[ \t]*`)
	bulletPattern   = regexp.MustCompile(`(?m)^[ \t]*[-•][ \t]+`)
)

func stripDecoration(s string) string {
	s = ruleLinePattern.ReplaceAllString(s, "")
	s = ruleInlinePattern.ReplaceAllString(s, " ")
	s = headingPattern.ReplaceAllString(s, "")
	s = bulletPattern.ReplaceAllString(s, "")
	s = emphasisPattern.ReplaceAllString(s, "")
	return s
}

// --- numeric expansion ---

var (
	currencyPattern   = regexp.MustCompile(`R\$[ \t]*([0-9]{1,3}(?:\.[0-9]{3})+|[0-9]+)(?:,([0-9]{1,2}))?`)
	percentPattern    = regexp.MustCompile(`([0-9]+(?:,[0-9]+)?)[ \t]*%`)
	groupedIntPattern = regexp.MustCompile(`\b[0-9]{1,3}(?:\.[0-9]{3})+\b`)
)

// speakMagnitude turns a large integer into a spoken magnitude phrase:
// 1500000 → "um milhão e quinhentos mil", 2000000 → "dois milhões".
// ok is false when no clean spoken form exists; callers then keep digits.
func speakMagnitude(v int64) (phrase string, ok bool) {
	type tier struct {
		unit     int64
		singular string
		plural   string
	}
	tiers := []tier{
		{1_000_000_000, "bilhão", "bilhões"},
		{1_000_000, "milhão", "milhões"},
		{1_000, "mil", "mil"},
	}

	for _, t := range tiers {
		if v < t.unit {
			continue
		}
		whole := v / t.unit
		rem := v % t.unit

		name := t.plural
		if whole == 1 {
			name = t.singular
		}

		base := speakSmall(whole, t.unit) + " " + name
		if t.unit == 1_000 && whole == 1 {
			base = "mil" // "um mil" is not natural Portuguese
		}

		switch {
		case rem == 0:
			return base, true
		case rem*2 == t.unit && t.unit != 1_000:
			// 1.500.000 → "um milhão e meio"
			return base + " e meio", true
		case t.unit == 1_000 && rem%100 == 0:
			// 1.500 → "mil e quinhentos", not "1 vírgula 5 mil"
			return base + " e " + hundredsWords[rem/100], true
		case rem%(t.unit/10) == 0:
			// One clean decimal digit: 1.200.000 → "1 vírgula 2 milhões"
			d := rem / (t.unit / 10)
			return fmt.Sprintf("%d vírgula %d %s", whole, d, t.plural), true
		default:
			// Lossy to round further; sub-magnitude remainder may itself
			// be speakable (1.350.000 → "1 milhão e 350 mil").
			if sub, subOK := speakMagnitude(rem); subOK {
				return base + " e " + sub, true
			}
			return "", false
		}
	}
	return "", false
}

var hundredsWords = map[int64]string{
	1: "cem",
	2: "duzentos",
	3: "trezentos",
	4: "quatrocentos",
	5: "quinhentos",
	6: "seiscentos",
	7: "setecentos",
	8: "oitocentos",
	9: "novecentos",
}

// speakSmall renders the whole part of a magnitude phrase. Only "um" gets a
// word form; TTS voices read plain digits correctly for everything else.
func speakSmall(n, unit int64) string {
	if n == 1 && unit != 1_000 {
		return "um"
	}
	return strconv.FormatInt(n, 10)
}

func expandCurrency(s string) string {
	return currencyPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := currencyPattern.FindStringSubmatch(match)
		intPart := strings.ReplaceAll(groups[1], ".", "")
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return match
		}

		var spoken string
		if v >= 1_000 {
			phrase, ok := speakMagnitude(v)
			if !ok {
				phrase = intPart
			}
			if strings.Contains(phrase, "milh") || strings.Contains(phrase, "bilh") {
				spoken = phrase + " de reais"
			} else {
				spoken = phrase + " reais"
			}
		} else if v == 1 {
			spoken = "1 real"
		} else {
			spoken = fmt.Sprintf("%d reais", v)
		}

		// Cents only matter on amounts small enough for them to be heard.
		if cents := groups[2]; cents != "" && v < 1_000 {
			if c, err := strconv.Atoi(cents); err == nil && c > 0 {
				if len(cents) == 1 {
					c *= 10 // "R$ 9,5" means 50 cents
				}
				if c == 1 {
					spoken += " e 1 centavo"
				} else {
					spoken += fmt.Sprintf(" e %d centavos", c)
				}
			}
		}
		return spoken
	})
}

func expandPercent(s string) string {
	return percentPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := percentPattern.FindStringSubmatch(match)
		number := groups[1]
		if i := strings.IndexByte(number, ','); i >= 0 {
			return number[:i] + " vírgula " + number[i+1:] + " por cento"
		}
		return number + " por cento"
	})
}

func expandGroupedIntegers(s string) string {
	return groupedIntPattern.ReplaceAllStringFunc(s, func(match string) string {
		v, err := strconv.ParseInt(strings.ReplaceAll(match, ".", ""), 10, 64)
		if err != nil {
			return match
		}
		if phrase, ok := speakMagnitude(v); ok {
			return phrase
		}
		// No clean spoken form; at least drop the separators so the voice
		// reads one number instead of "1 ponto 234".
		return strings.ReplaceAll(match, ".", "")
	})
}

// --- line collapsing ---

var multiSpacePattern = regexp.MustCompile(`[ \t]{2,}`)

func endsWithPunctuation(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';', ',':
		return true
	}
	return false
}

// collapseLines joins lines into sentence-like prose: a line that does not
// already end with punctuation gets a period before the next one.
func collapseLines(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}

	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			if endsWithPunctuation(parts[i-1]) {
				b.WriteByte(' ')
			} else {
				b.WriteString(". ")
			}
		}
		b.WriteString(part)
	}

	return strings.TrimSpace(multiSpacePattern.ReplaceAllString(b.String(), " "))
}
