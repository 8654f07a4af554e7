package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zapbi/zapbi/internal/agent"
	"github.com/zapbi/zapbi/internal/analytics"
	"github.com/zapbi/zapbi/internal/channel"
	"github.com/zapbi/zapbi/internal/providers"
	"github.com/zapbi/zapbi/internal/resolver"
	"github.com/zapbi/zapbi/internal/speech"
	"github.com/zapbi/zapbi/internal/store"
	"github.com/zapbi/zapbi/internal/tools"
)

// Turn statuses reported in the webhook response.
const (
	statusUnauthorized        = "unauthorized"
	statusChannelMenu         = "channel_menu"
	statusChannelSelected     = "channel_selected"
	statusDatasetMenu         = "dataset_menu"
	statusDatasetSelected     = "dataset_selected"
	statusNoDatasets          = "no_datasets"
	statusTranscriptionFailed = "transcription_failed"
	statusAnswered            = "answered"
	statusFailed              = "failed"
)

const (
	transcriptionApology = "Desculpe, não consegui entender o áudio. Pode tentar de novo ou mandar por texto?"
	upstreamApology      = "Desculpe, tive um problema para processar sua mensagem agora. Tente novamente em alguns instantes."
	noDatasetsNotice     = "Você ainda não tem nenhuma base de dados liberada para consulta. Fale com o administrador da sua conta."
	assistantLabel       = "assistente"
)

// Orchestrator runs one inbound event through the whole pipeline: resolve,
// disambiguate, transcribe, classify, query, sanitize, reply.
type Orchestrator struct {
	stores      *store.Stores
	gateway     channel.Gateway
	engine      analytics.Engine
	provider    providers.Provider
	model       string
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer

	location       *time.Location
	maxSpeechChars int

	channelMenu *resolver.Menu
	datasetMenu *resolver.Menu
}

// OrchestratorConfig collects the orchestrator's collaborators.
type OrchestratorConfig struct {
	Stores      *store.Stores
	Gateway     channel.Gateway
	Engine      analytics.Engine
	Provider    providers.Provider
	Model       string
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer

	Location       *time.Location
	MaxSpeechChars int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	maxChars := cfg.MaxSpeechChars
	if maxChars <= 0 {
		maxChars = speech.DefaultMaxSpeechChars
	}
	return &Orchestrator{
		stores:         cfg.Stores,
		gateway:        cfg.Gateway,
		engine:         cfg.Engine,
		provider:       cfg.Provider,
		model:          cfg.Model,
		transcriber:    cfg.Transcriber,
		synthesizer:    cfg.Synthesizer,
		location:       loc,
		maxSpeechChars: maxChars,
		channelMenu:    resolver.ChannelMenu(),
		datasetMenu:    resolver.DatasetMenu(),
	}
}

// HandleTurn processes one normalized event end to end and returns the turn
// status. Errors it returns are boundary failures; the caller answers the
// gateway with a generic status and nothing more is sent to the user.
func (o *Orchestrator) HandleTurn(ctx context.Context, ev *InboundEvent) (string, error) {
	contacts, err := o.stores.Contacts.ActiveByPhone(ctx, ev.Phone)
	if err != nil {
		return statusFailed, fmt.Errorf("contact lookup: %w", err)
	}
	if len(contacts) == 0 {
		// Silent no-op so an unknown sender learns nothing.
		slog.Debug("unauthorized sender", "phone", ev.Phone)
		return statusUnauthorized, nil
	}

	convCtx := o.loadContext(ctx, ev.Phone)

	contact, inst, status, err := o.resolveChannel(ctx, ev, contacts, convCtx)
	if err != nil || status != "" {
		return status, err
	}

	dataset, status, err := o.resolveDataset(ctx, ev, contact, inst, convCtx)
	if err != nil || status != "" {
		return status, err
	}

	question, status, err := o.resolveText(ctx, ev, inst)
	if err != nil || status != "" {
		return status, err
	}

	return o.answer(ctx, ev, contact, inst, dataset, question)
}

// loadContext fetches the phone's conversation context, treating missing
// and expired rows as absent.
func (o *Orchestrator) loadContext(ctx context.Context, phone string) *store.ConversationContext {
	cc, err := o.stores.Contexts.Get(ctx, phone)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("context lookup failed", "phone", phone, "error", err)
		}
		return nil
	}
	if cc.Expired(time.Now()) {
		return nil
	}
	return cc
}

// resolveChannel picks the (tenant, channel instance) grant for this turn.
// A non-empty status means the turn ended inside the menu flow.
func (o *Orchestrator) resolveChannel(ctx context.Context, ev *InboundEvent, contacts []store.AuthorizedContact, convCtx *store.ConversationContext) (*store.AuthorizedContact, *store.ChannelInstance, string, error) {
	instances := make([]*store.ChannelInstance, len(contacts))
	labels := make([]string, len(contacts))
	for i, c := range contacts {
		inst, err := o.stores.Instances.Get(ctx, c.ChannelInstanceID)
		if err != nil {
			return nil, nil, statusFailed, fmt.Errorf("channel instance %s: %w", c.ChannelInstanceID, err)
		}
		instances[i] = inst
		labels[i] = inst.Name
	}

	storedIndex := -1
	if convCtx != nil && convCtx.ChannelInstanceID != uuid.Nil {
		for i, c := range contacts {
			if c.ChannelInstanceID == convCtx.ChannelInstanceID {
				storedIndex = i
				break
			}
		}
	}

	outcome := o.channelMenu.Step(ev.Text, labels, storedIndex)

	var status string
	switch outcome.Kind {
	case resolver.OutcomeAutoSelected, resolver.OutcomeSelected:
		// Falls through to the non-terminal return below.

	case resolver.OutcomeChosen:
		chosen := contacts[outcome.Index]
		if err := o.persistContext(ctx, ev.Phone, chosen.ChannelInstanceID, nil); err != nil {
			return nil, nil, statusFailed, err
		}
		o.reply(ctx, instances[outcome.Index], chosen.TenantID, ev.Phone, outcome.Reply)
		status = statusChannelSelected

	case resolver.OutcomePrompt:
		if outcome.ClearSelection {
			if err := o.stores.Contexts.Delete(ctx, ev.Phone); err != nil {
				slog.Warn("context delete failed", "phone", ev.Phone, "error", err)
			}
		}
		slog.Debug("channel menu re-rendered", "phone", ev.Phone, "cleared", outcome.ClearSelection)
		// The menu has to travel through some instance; the first
		// candidate works since all belong to the sender.
		o.reply(ctx, instances[0], contacts[0].TenantID, ev.Phone, outcome.Reply)
		status = statusChannelMenu

	default:
		return nil, nil, statusFailed, fmt.Errorf("unexpected channel outcome %v", outcome.Kind)
	}

	if outcome.EndTurn {
		return nil, nil, status, nil
	}
	return &contacts[outcome.Index], instances[outcome.Index], "", nil
}

// resolveDataset picks the dataset inside the resolved channel.
func (o *Orchestrator) resolveDataset(ctx context.Context, ev *InboundEvent, contact *store.AuthorizedContact, inst *store.ChannelInstance, convCtx *store.ConversationContext) (*store.DatasetRef, string, error) {
	datasets, err := o.stores.Bindings.DatasetsForContact(ctx, contact.ID)
	if err != nil {
		return nil, statusFailed, fmt.Errorf("dataset bindings: %w", err)
	}
	if len(datasets) == 0 {
		o.reply(ctx, inst, contact.TenantID, ev.Phone, noDatasetsNotice)
		return nil, statusNoDatasets, nil
	}

	labels := make([]string, len(datasets))
	for i, d := range datasets {
		labels[i] = d.DatasetName
	}

	storedIndex := -1
	if convCtx != nil && convCtx.Dataset != nil {
		for i, d := range datasets {
			if d.ConnectionID == convCtx.Dataset.ConnectionID && d.DatasetID == convCtx.Dataset.DatasetID {
				storedIndex = i
				break
			}
		}
	}

	outcome := o.datasetMenu.Step(ev.Text, labels, storedIndex)

	var status string
	switch outcome.Kind {
	case resolver.OutcomeAutoSelected:
		// Bind silently so the first question is answered without a menu.
		if storedIndex != outcome.Index {
			ds := datasets[outcome.Index]
			if err := o.persistContext(ctx, ev.Phone, contact.ChannelInstanceID, &ds); err != nil {
				return nil, statusFailed, err
			}
		}

	case resolver.OutcomeSelected:
		// Falls through to the non-terminal return below.

	case resolver.OutcomeChosen:
		ds := datasets[outcome.Index]
		if err := o.persistContext(ctx, ev.Phone, contact.ChannelInstanceID, &ds); err != nil {
			return nil, statusFailed, err
		}
		o.reply(ctx, inst, contact.TenantID, ev.Phone, outcome.Reply)
		status = statusDatasetSelected

	case resolver.OutcomePrompt:
		if outcome.ClearSelection {
			if err := o.persistContext(ctx, ev.Phone, contact.ChannelInstanceID, nil); err != nil {
				return nil, statusFailed, err
			}
		}
		slog.Debug("dataset menu re-rendered", "phone", ev.Phone, "cleared", outcome.ClearSelection)
		o.reply(ctx, inst, contact.TenantID, ev.Phone, outcome.Reply)
		status = statusDatasetMenu

	default:
		return nil, statusFailed, fmt.Errorf("unexpected dataset outcome %v", outcome.Kind)
	}

	if outcome.EndTurn {
		return nil, status, nil
	}
	return &datasets[outcome.Index], "", nil
}

// resolveText produces the question text, transcribing audio turns. On
// transcription failure the user gets a fixed apology and the turn aborts
// before any model call.
func (o *Orchestrator) resolveText(ctx context.Context, ev *InboundEvent, inst *store.ChannelInstance) (string, string, error) {
	if !ev.IsAudio {
		return ev.Text, "", nil
	}

	audio := ev.AudioData
	if len(audio) == 0 {
		data, err := o.gateway.FetchMedia(ctx, inst, ev.MessageID)
		if err != nil {
			slog.Warn("media fetch failed", "phone", ev.Phone, "error", err)
			o.sendText(ctx, inst, ev.Phone, transcriptionApology)
			return "", statusTranscriptionFailed, nil
		}
		audio = data
	}

	text, err := o.transcriber.Transcribe(ctx, audio)
	if err != nil || text == "" {
		slog.Warn("transcription failed", "phone", ev.Phone, "error", err)
		o.sendText(ctx, inst, ev.Phone, transcriptionApology)
		return "", statusTranscriptionFailed, nil
	}
	return text, "", nil
}

// answer runs the classifier, the agent loop and the outbound leg.
func (o *Orchestrator) answer(ctx context.Context, ev *InboundEvent, contact *store.AuthorizedContact, inst *store.ChannelInstance, dataset *store.DatasetRef, question string) (string, error) {
	tier := agent.Classify(question)
	slog.Info("turn classified", "phone", ev.Phone, "tier", tier.Level, "audio", ev.IsAudio)

	if tier.SendFiller {
		o.sendText(ctx, inst, ev.Phone, agent.FillerNotice())
	}

	// History is read before the inbound append so the question is not
	// duplicated in the transcript.
	history, err := o.stores.Messages.History(ctx, ev.Phone, tier.HistoryDepth)
	if err != nil {
		slog.Warn("history lookup failed", "phone", ev.Phone, "error", err)
		history = nil
	}

	o.logMessage(ctx, contact.TenantID, ev.Phone, question, store.DirectionIn, ev.PushName)

	modelDoc := ""
	if doc, err := o.stores.ModelDocs.ActiveByConnection(ctx, dataset.ConnectionID); err == nil {
		modelDoc = doc.Content
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("model doc lookup failed", "connection", dataset.ConnectionID, "error", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewQueryTool(o.engine, dataset.ConnectionID, dataset.DatasetID, dataset.DatasetName))

	loop := agent.NewLoop(o.provider, o.model, registry)
	raw, err := loop.Run(ctx, agent.Turn{
		Tier:     tier,
		System:   agent.BuildSystemPrompt(tier, dataset.DatasetName, modelDoc),
		History:  agent.RenderHistory(history, tier.HistoryDepth),
		Question: question,
	})
	if err != nil {
		slog.Error("agent loop failed", "phone", ev.Phone, "error", err)
		o.reply(ctx, inst, contact.TenantID, ev.Phone, upstreamApology)
		return statusFailed, nil
	}

	answer := agent.Sanitize(raw, tier.OutputCeiling)

	if ev.IsAudio {
		o.deliverAudio(ctx, inst, contact.TenantID, ev.Phone, answer)
	} else {
		o.reply(ctx, inst, contact.TenantID, ev.Phone, answer)
	}
	return statusAnswered, nil
}

// deliverAudio synthesizes the answer for an audio-original turn, falling
// back to plain text when synthesis fails.
func (o *Orchestrator) deliverAudio(ctx context.Context, inst *store.ChannelInstance, tenantID uuid.UUID, phone, answer string) {
	spoken := speech.Speakable(answer, o.maxSpeechChars)
	audio, err := o.synthesizer.Synthesize(ctx, spoken)
	if err != nil {
		slog.Warn("synthesis failed, sending text", "phone", phone, "error", err)
		o.reply(ctx, inst, tenantID, phone, answer)
		return
	}
	if err := o.gateway.SendAudio(ctx, inst, phone, audio); err != nil {
		slog.Warn("audio delivery failed, sending text", "phone", phone, "error", err)
		o.reply(ctx, inst, tenantID, phone, answer)
		return
	}
	o.logMessage(ctx, tenantID, phone, answer, store.DirectionOut, assistantLabel)
}

// reply sends text and logs it as an outbound message.
func (o *Orchestrator) reply(ctx context.Context, inst *store.ChannelInstance, tenantID uuid.UUID, phone, text string) {
	o.sendText(ctx, inst, phone, text)
	o.logMessage(ctx, tenantID, phone, text, store.DirectionOut, assistantLabel)
}

func (o *Orchestrator) sendText(ctx context.Context, inst *store.ChannelInstance, phone, text string) {
	if err := o.gateway.SendText(ctx, inst, phone, text); err != nil {
		slog.Error("text delivery failed", "phone", phone, "instance", inst.Name, "error", err)
	}
}

func (o *Orchestrator) logMessage(ctx context.Context, tenantID uuid.UUID, phone, content, direction, label string) {
	err := o.stores.Messages.Append(ctx, &store.Message{
		TenantID:    tenantID,
		Phone:       phone,
		Content:     content,
		Direction:   direction,
		SenderLabel: label,
	})
	if err != nil {
		slog.Warn("message log append failed", "phone", phone, "direction", direction, "error", err)
	}
}

// persistContext upserts the phone's selection with end-of-day expiry.
func (o *Orchestrator) persistContext(ctx context.Context, phone string, instanceID uuid.UUID, dataset *store.DatasetRef) error {
	now := time.Now()
	err := o.stores.Contexts.Upsert(ctx, &store.ConversationContext{
		Phone:             phone,
		ChannelInstanceID: instanceID,
		Dataset:           dataset,
		CreatedAt:         now.UTC(),
		ExpiresAt:         store.EndOfDay(now, o.location),
	})
	if err != nil {
		return fmt.Errorf("persist context: %w", err)
	}
	return nil
}
