// Package resolver implements the numeric disambiguation menus used when a
// sender maps to more than one channel instance or dataset. Both steps run
// the same state machine, parametrized with their own labels, reserved
// keywords and wording.
package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// OutcomeKind classifies the result of one menu step.
type OutcomeKind int

const (
	// OutcomeNone means there were no candidates at all.
	OutcomeNone OutcomeKind = iota
	// OutcomeAutoSelected means a single candidate was picked without a menu.
	OutcomeAutoSelected
	// OutcomeSelected means a previously stored selection is still valid.
	OutcomeSelected
	// OutcomeChosen means the input was a valid menu index. The turn ends
	// with a confirmation; the query comes on a later turn.
	OutcomeChosen
	// OutcomePrompt means the menu was (re)rendered and the turn ends.
	OutcomePrompt
)

// Outcome is the result of feeding one inbound message through a menu step.
type Outcome struct {
	Kind  OutcomeKind
	Index int // zero-based candidate index for AutoSelected, Selected, Chosen

	// Reply is the text to send back, set for Chosen and Prompt.
	Reply string

	// EndTurn reports that no further processing happens this turn.
	EndTurn bool

	// ClearSelection is set when a reserved keyword invalidates the stored
	// selection; the caller must drop it before persisting anything new.
	ClearSelection bool
}

// Menu is one disambiguation step. Candidate order is the caller's and menu
// indices shown to the user are 1-based over that order.
type Menu struct {
	header   string
	footer   string
	keywords map[string]struct{}
	confirm  func(label string) string
}

// NewMenu builds a step with the given prompt wording and reserved keywords.
func NewMenu(header, footer string, keywords []string, confirm func(label string) string) *Menu {
	kw := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		kw[strings.ToLower(k)] = struct{}{}
	}
	return &Menu{header: header, footer: footer, keywords: kw, confirm: confirm}
}

// Step runs one transition. labels are the current candidates, storedIndex is
// the previously persisted selection (-1 when none or expired) and input is
// the sender's message text.
func (m *Menu) Step(input string, labels []string, storedIndex int) Outcome {
	switch len(labels) {
	case 0:
		return Outcome{Kind: OutcomeNone}
	case 1:
		return Outcome{Kind: OutcomeAutoSelected, Index: 0}
	}

	trimmed := strings.TrimSpace(input)

	if _, reserved := m.keywords[strings.ToLower(trimmed)]; reserved {
		return Outcome{
			Kind:           OutcomePrompt,
			Reply:          m.render(labels),
			EndTurn:        true,
			ClearSelection: true,
		}
	}

	if storedIndex >= 0 && storedIndex < len(labels) {
		return Outcome{Kind: OutcomeSelected, Index: storedIndex}
	}

	if k, err := strconv.Atoi(trimmed); err == nil && k >= 1 && k <= len(labels) {
		return Outcome{
			Kind:    OutcomeChosen,
			Index:   k - 1,
			Reply:   m.confirm(labels[k-1]),
			EndTurn: true,
		}
	}

	// Anything else while the menu is pending re-renders it. The message is
	// discarded; selection and query happen on separate turns.
	return Outcome{Kind: OutcomePrompt, Reply: m.render(labels), EndTurn: true}
}

func (m *Menu) render(labels []string) string {
	var b strings.Builder
	b.WriteString(m.header)
	b.WriteString("\n\n")
	for i, label := range labels {
		fmt.Fprintf(&b, "*%d* - %s\n", i+1, label)
	}
	b.WriteString("\n")
	b.WriteString(m.footer)
	return b.String()
}

// ChannelMenu is the channel-instance step. The reserved keywords reopen the
// menu even when a selection already exists.
func ChannelMenu() *Menu {
	return NewMenu(
		"Você tem acesso a mais de um canal. Qual deseja usar agora?",
		"Responda com o número da opção desejada.",
		[]string{"trocar", "mudar", "menu", "sair"},
		func(label string) string {
			return fmt.Sprintf("Canal *%s* selecionado. Pode enviar sua pergunta.", label)
		},
	)
}

// DatasetMenu is the dataset step, nested below a resolved channel instance.
func DatasetMenu() *Menu {
	return NewMenu(
		"Qual base de dados você quer consultar?",
		"Responda com o número da opção. Envie *0* a qualquer momento para trocar de base.",
		[]string{"0", "menu"},
		func(label string) string {
			return fmt.Sprintf("Base *%s* selecionada. Pode enviar sua pergunta. Envie *0* para trocar de base.", label)
		},
	)
}
