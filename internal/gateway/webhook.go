package gateway

import (
	"encoding/base64"
	"strings"
)

// webhookEnvelope mirrors the gateway's messages.upsert payload. Only the
// fields the orchestrator reads are declared.
type webhookEnvelope struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			AudioMessage *struct {
				URL      string `json:"url"`
				Mimetype string `json:"mimetype"`
			} `json:"audioMessage"`
			Base64 string `json:"base64"`
		} `json:"message"`
		MessageType string `json:"messageType"`
	} `json:"data"`
}

// InboundEvent is one normalized user message.
type InboundEvent struct {
	Phone     string
	PushName  string
	MessageID string

	Text string

	IsAudio   bool
	AudioData []byte // inline audio when the gateway embedded it
}

// No-op classifications returned alongside a nil event. Reported back to
// the gateway in the response body, always with HTTP 200.
const (
	noopIgnoredEvent = "ignored_event"
	noopSelf         = "self_sent"
	noopGroup        = "group"
	noopEmpty        = "empty"
	noopUnsupported  = "unsupported_type"
)

// normalize turns a webhook envelope into an InboundEvent, or classifies it
// as a no-op. Self-sent messages, group chats, empty payloads and media
// types other than audio are discarded.
func normalize(env *webhookEnvelope) (*InboundEvent, string) {
	if env.Event != "messages.upsert" {
		return nil, noopIgnoredEvent
	}
	if env.Data.Key.FromMe {
		return nil, noopSelf
	}

	jid := env.Data.Key.RemoteJid
	if strings.HasSuffix(jid, "@g.us") {
		return nil, noopGroup
	}
	phone := strings.TrimSuffix(jid, "@s.whatsapp.net")
	if phone == "" {
		return nil, noopEmpty
	}

	ev := &InboundEvent{
		Phone:     phone,
		PushName:  env.Data.PushName,
		MessageID: env.Data.Key.ID,
	}

	msg := env.Data.Message
	switch {
	case msg.AudioMessage != nil:
		ev.IsAudio = true
		if msg.Base64 != "" {
			data, err := base64.StdEncoding.DecodeString(msg.Base64)
			if err == nil {
				ev.AudioData = data
			}
		}
	case msg.Conversation != "":
		ev.Text = strings.TrimSpace(msg.Conversation)
	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.Text != "":
		ev.Text = strings.TrimSpace(msg.ExtendedTextMessage.Text)
	default:
		return nil, noopUnsupported
	}

	if !ev.IsAudio && ev.Text == "" {
		return nil, noopEmpty
	}
	return ev, ""
}
