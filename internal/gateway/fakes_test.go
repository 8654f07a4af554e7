package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/store"
)

// In-memory store fakes shared by the orchestrator tests.

type memContacts struct {
	byPhone map[string][]store.AuthorizedContact
}

func (m *memContacts) ActiveByPhone(_ context.Context, phone string) ([]store.AuthorizedContact, error) {
	return m.byPhone[phone], nil
}

type memInstances struct {
	byID map[uuid.UUID]*store.ChannelInstance
}

func (m *memInstances) Get(_ context.Context, id uuid.UUID) (*store.ChannelInstance, error) {
	inst, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return inst, nil
}

type memContexts struct {
	mu      sync.Mutex
	byPhone map[string]*store.ConversationContext
}

func (m *memContexts) Get(_ context.Context, phone string) (*store.ConversationContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc, ok := m.byPhone[phone]
	if !ok || cc.Expired(time.Now()) {
		return nil, store.ErrNotFound
	}
	cp := *cc
	return &cp, nil
}

func (m *memContexts) Upsert(_ context.Context, cc *store.ConversationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cc
	m.byPhone[cc.Phone] = &cp
	return nil
}

func (m *memContexts) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPhone, phone)
	return nil
}

type memBindings struct {
	byContact map[uuid.UUID][]store.DatasetRef
}

func (m *memBindings) DatasetsForContact(_ context.Context, contactID uuid.UUID) ([]store.DatasetRef, error) {
	return m.byContact[contactID], nil
}

type memMessages struct {
	mu   sync.Mutex
	rows []store.Message
}

func (m *memMessages) Append(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	cp.CreatedAt = time.Now()
	m.rows = append(m.rows, cp)
	return nil
}

func (m *memMessages) History(_ context.Context, phone string, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, row := range m.rows {
		if row.Phone == phone {
			out = append(out, row)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type memModelDocs struct {
	byConnection map[string]*store.ModelDoc
}

func (m *memModelDocs) ActiveByConnection(_ context.Context, connectionID string) (*store.ModelDoc, error) {
	doc, ok := m.byConnection[connectionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

// fakeChannel records every outbound call.

type sentText struct {
	instance string
	to       string
	text     string
}

type fakeChannel struct {
	mu     sync.Mutex
	texts  []sentText
	audios int
	media  []byte

	audioErr error
	mediaErr error
}

func (f *fakeChannel) SendText(_ context.Context, inst *store.ChannelInstance, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{instance: inst.Name, to: to, text: text})
	return nil
}

func (f *fakeChannel) SendAudio(_ context.Context, _ *store.ChannelInstance, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audioErr != nil {
		return f.audioErr
	}
	f.audios++
	return nil
}

func (f *fakeChannel) FetchMedia(_ context.Context, _ *store.ChannelInstance, _ string) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

func (f *fakeChannel) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1].text
}

// scriptedProvider answers every chat with the same response.

type scriptedProvider struct {
	mu      sync.Mutex
	answer  string
	calls   int
	lastReq providers.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastReq = req
	return &providers.ChatResponse{Content: p.answer, FinishReason: "stop"}, nil
}

func (p *scriptedProvider) DefaultModel() string { return "fake-model" }
func (p *scriptedProvider) Name() string         { return "fake" }

type stubEngine struct{}

func (stubEngine) ExecuteQuery(_ context.Context, _, _, _ string) (*analytics.QueryResult, error) {
	return &analytics.QueryResult{Columns: []string{"x"}}, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type fakeSynthesizer struct {
	err   error
	calls int
	last  string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls++
	f.last = text
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio"), nil
}

var errSynthDown = errors.New("synthesis unavailable")
