package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/store"
)

const testPhone = "5511999990000"

type fixture struct {
	orch      *Orchestrator
	channel   *fakeChannel
	provider  *scriptedProvider
	contexts  *memContexts
	messages  *memMessages
	synth     *fakeSynthesizer
	contactID [2]uuid.UUID
	instID    [2]uuid.UUID
}

// newFixture wires an orchestrator over in-memory stores. contacts picks how
// many channel grants the test phone has; datasets how many bindings the
// first contact gets.
func newFixture(t *testing.T, contacts, datasets int) *fixture {
	t.Helper()

	f := &fixture{
		channel:  &fakeChannel{},
		provider: &scriptedProvider{answer: "O faturamento de ontem foi de R$ 10.000,00 no total."},
		contexts: &memContexts{byPhone: map[string]*store.ConversationContext{}},
		messages: &memMessages{},
		synth:    &fakeSynthesizer{},
	}

	instanceNames := []string{"Matriz", "Filial Sul"}
	instances := &memInstances{byID: map[uuid.UUID]*store.ChannelInstance{}}
	contactRows := make([]store.AuthorizedContact, 0, contacts)
	bindings := &memBindings{byContact: map[uuid.UUID][]store.DatasetRef{}}

	for i := 0; i < contacts; i++ {
		f.contactID[i] = uuid.New()
		f.instID[i] = uuid.New()
		instances.byID[f.instID[i]] = &store.ChannelInstance{
			ID:        f.instID[i],
			Name:      instanceNames[i],
			Endpoint:  "http://gateway.local",
			Connected: true,
		}
		contactRows = append(contactRows, store.AuthorizedContact{
			ID:                f.contactID[i],
			Phone:             testPhone,
			TenantID:          uuid.New(),
			ChannelInstanceID: f.instID[i],
			Active:            true,
		})
	}

	refs := []store.DatasetRef{
		{ConnectionID: "conn-1", DatasetID: "10", DatasetName: "Vendas"},
		{ConnectionID: "conn-1", DatasetID: "11", DatasetName: "Estoque"},
	}
	for i := 0; i < contacts; i++ {
		bindings.byContact[f.contactID[i]] = refs[:datasets]
	}

	stores := &store.Stores{
		Contacts:  &memContacts{byPhone: map[string][]store.AuthorizedContact{testPhone: contactRows}},
		Instances: instances,
		Contexts:  f.contexts,
		Bindings:  bindings,
		Messages:  f.messages,
		ModelDocs: &memModelDocs{byConnection: map[string]*store.ModelDoc{}},
	}

	f.orch = NewOrchestrator(OrchestratorConfig{
		Stores:      stores,
		Gateway:     f.channel,
		Engine:      stubEngine{},
		Provider:    f.provider,
		Transcriber: &fakeTranscriber{text: "quanto vendemos ontem?"},
		Synthesizer: f.synth,
		Location:    time.UTC,
	})
	return f
}

func textEvent(text string) *InboundEvent {
	return &InboundEvent{Phone: testPhone, PushName: "Maria", MessageID: "M1", Text: text}
}

func TestTurnUnauthorizedIsSilent(t *testing.T) {
	f := newFixture(t, 0, 0)
	status, err := f.orch.HandleTurn(context.Background(), textEvent("oi"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if status != statusUnauthorized {
		t.Fatalf("status = %q", status)
	}
	if len(f.channel.texts) != 0 || f.channel.audios != 0 {
		t.Fatal("unauthorized sender must produce no outbound message")
	}
}

func TestTurnSingleContactSingleDatasetAnswersDirectly(t *testing.T) {
	f := newFixture(t, 1, 1)
	status, err := f.orch.HandleTurn(context.Background(), textEvent("quanto vendemos ontem?"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if status != statusAnswered {
		t.Fatalf("status = %q", status)
	}
	if got := f.channel.lastText(); !strings.Contains(got, "R$ 10.000,00") {
		t.Fatalf("answer not delivered: %q", got)
	}
	for _, sent := range f.channel.texts {
		if strings.Contains(sent.text, "*1*") {
			t.Fatalf("menu shown to single-candidate sender: %q", sent.text)
		}
	}
	if f.provider.calls == 0 {
		t.Fatal("model never called")
	}
}

func TestTurnChannelMenuFlow(t *testing.T) {
	f := newFixture(t, 2, 1)
	ctx := context.Background()

	// First message: menu shown, question discarded, turn ends.
	status, err := f.orch.HandleTurn(ctx, textEvent("quanto vendemos ontem?"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if status != statusChannelMenu {
		t.Fatalf("status = %q", status)
	}
	menu := f.channel.lastText()
	if !strings.Contains(menu, "*1* - Matriz") || !strings.Contains(menu, "*2* - Filial Sul") {
		t.Fatalf("menu missing candidates: %q", menu)
	}
	if f.provider.calls != 0 {
		t.Fatal("model must not run while a menu is pending")
	}

	// Invalid reply: same menu again, context untouched.
	status, _ = f.orch.HandleTurn(ctx, textEvent("7"))
	if status != statusChannelMenu {
		t.Fatalf("out-of-range digit: status = %q", status)
	}
	if _, err := f.contexts.Get(ctx, testPhone); err == nil {
		t.Fatal("invalid reply must not persist a selection")
	}

	// Valid digit: confirmation, context persisted, turn ends.
	status, _ = f.orch.HandleTurn(ctx, textEvent("2"))
	if status != statusChannelSelected {
		t.Fatalf("digit 2: status = %q", status)
	}
	if !strings.Contains(f.channel.lastText(), "Filial Sul") {
		t.Fatalf("confirmation missing label: %q", f.channel.lastText())
	}
	cc, err := f.contexts.Get(ctx, testPhone)
	if err != nil {
		t.Fatalf("context not persisted: %v", err)
	}
	if cc.ChannelInstanceID != f.instID[1] {
		t.Fatal("wrong channel persisted")
	}
	if !cc.ExpiresAt.After(time.Now()) {
		t.Fatal("context must expire in the future")
	}

	// Next turn flows through the selected channel.
	status, _ = f.orch.HandleTurn(ctx, textEvent("quanto vendemos ontem?"))
	if status != statusAnswered {
		t.Fatalf("after selection: status = %q", status)
	}
	last := f.channel.texts[len(f.channel.texts)-1]
	if last.instance != "Filial Sul" {
		t.Fatalf("answer sent through %q, want Filial Sul", last.instance)
	}
}

func TestTurnExpiredContextReopensMenu(t *testing.T) {
	f := newFixture(t, 2, 1)
	ctx := context.Background()

	f.contexts.byPhone[testPhone] = &store.ConversationContext{
		Phone:             testPhone,
		ChannelInstanceID: f.instID[0],
		CreatedAt:         time.Now().Add(-48 * time.Hour),
		ExpiresAt:         time.Now().Add(-24 * time.Hour),
	}

	status, _ := f.orch.HandleTurn(ctx, textEvent("quanto vendemos ontem?"))
	if status != statusChannelMenu {
		t.Fatalf("expired context must reopen the menu, got %q", status)
	}
}

func TestTurnReservedKeywordReopensMenu(t *testing.T) {
	f := newFixture(t, 2, 1)
	ctx := context.Background()

	if _, err := f.orch.HandleTurn(ctx, textEvent("1")); err != nil {
		t.Fatal(err)
	}
	status, _ := f.orch.HandleTurn(ctx, textEvent("trocar"))
	if status != statusChannelMenu {
		t.Fatalf("keyword must reopen the menu, got %q", status)
	}
	if _, err := f.contexts.Get(ctx, testPhone); err == nil {
		t.Fatal("keyword must clear the stored selection")
	}
}

func TestTurnDatasetMenuFlow(t *testing.T) {
	f := newFixture(t, 1, 2)
	ctx := context.Background()

	status, _ := f.orch.HandleTurn(ctx, textEvent("quanto vendemos ontem?"))
	if status != statusDatasetMenu {
		t.Fatalf("status = %q", status)
	}
	menu := f.channel.lastText()
	if !strings.Contains(menu, "*1* - Vendas") || !strings.Contains(menu, "*2* - Estoque") {
		t.Fatalf("dataset menu missing candidates: %q", menu)
	}

	status, _ = f.orch.HandleTurn(ctx, textEvent("1"))
	if status != statusDatasetSelected {
		t.Fatalf("digit 1: status = %q", status)
	}
	cc, err := f.contexts.Get(ctx, testPhone)
	if err != nil || cc.Dataset == nil || cc.Dataset.DatasetName != "Vendas" {
		t.Fatalf("dataset not persisted: %+v err=%v", cc, err)
	}

	status, _ = f.orch.HandleTurn(ctx, textEvent("quanto vendemos ontem?"))
	if status != statusAnswered {
		t.Fatalf("after dataset selection: status = %q", status)
	}
}

func TestTurnNoDatasets(t *testing.T) {
	f := newFixture(t, 1, 0)
	status, _ := f.orch.HandleTurn(context.Background(), textEvent("oi"))
	if status != statusNoDatasets {
		t.Fatalf("status = %q", status)
	}
	if !strings.Contains(f.channel.lastText(), "base de dados") {
		t.Fatalf("missing notice: %q", f.channel.lastText())
	}
}

func TestTurnAudioRoundTrip(t *testing.T) {
	f := newFixture(t, 1, 1)
	ev := &InboundEvent{Phone: testPhone, MessageID: "A1", IsAudio: true, AudioData: []byte("opus")}

	status, err := f.orch.HandleTurn(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if status != statusAnswered {
		t.Fatalf("status = %q", status)
	}
	if f.channel.audios != 1 {
		t.Fatalf("expected one audio delivery, got %d", f.channel.audios)
	}
	if strings.Contains(f.synth.last, "R$ 10.000,00") {
		t.Fatalf("currency figure not normalized for speech: %q", f.synth.last)
	}
	if !strings.Contains(f.synth.last, "10 mil reais") {
		t.Fatalf("spoken magnitude missing: %q", f.synth.last)
	}
}

func TestTurnTranscriptionFailureAborts(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.orch.transcriber = &fakeTranscriber{err: context.DeadlineExceeded}
	ev := &InboundEvent{Phone: testPhone, MessageID: "A1", IsAudio: true, AudioData: []byte("opus")}

	status, _ := f.orch.HandleTurn(context.Background(), ev)
	if status != statusTranscriptionFailed {
		t.Fatalf("status = %q", status)
	}
	if f.provider.calls != 0 {
		t.Fatal("model must not run after a transcription failure")
	}
	if !strings.Contains(f.channel.lastText(), "áudio") {
		t.Fatalf("apology missing: %q", f.channel.lastText())
	}
}

func TestTurnSynthesisFailureFallsBackToText(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.synth.err = errSynthDown
	ev := &InboundEvent{Phone: testPhone, MessageID: "A1", IsAudio: true, AudioData: []byte("opus")}

	status, _ := f.orch.HandleTurn(context.Background(), ev)
	if status != statusAnswered {
		t.Fatalf("status = %q", status)
	}
	if f.channel.audios != 0 {
		t.Fatal("no audio should be delivered when synthesis fails")
	}
	if !strings.Contains(f.channel.lastText(), "R$ 10.000,00") {
		t.Fatalf("text fallback missing: %q", f.channel.lastText())
	}
}

func TestTurnLogsBothDirections(t *testing.T) {
	f := newFixture(t, 1, 1)
	if _, err := f.orch.HandleTurn(context.Background(), textEvent("quanto vendemos ontem?")); err != nil {
		t.Fatal(err)
	}

	var in, out int
	for _, m := range f.messages.rows {
		switch m.Direction {
		case store.DirectionIn:
			in++
		case store.DirectionOut:
			out++
		}
	}
	if in != 1 || out == 0 {
		t.Fatalf("message log in=%d out=%d", in, out)
	}
}
