package gateway

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func decodeEnvelope(t *testing.T, body string) *webhookEnvelope {
	t.Helper()
	var env webhookEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return &env
}

func TestNormalizeTextMessage(t *testing.T) {
	env := decodeEnvelope(t, `{
		"event": "messages.upsert",
		"instance": "matriz",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "ABC123"},
			"pushName": "Maria",
			"message": {"conversation": " quanto vendemos ontem? "},
			"messageType": "conversation"
		}
	}`)

	ev, noop := normalize(env)
	if noop != "" {
		t.Fatalf("unexpected no-op %q", noop)
	}
	if ev.Phone != "5511999990000" {
		t.Errorf("phone = %q", ev.Phone)
	}
	if ev.Text != "quanto vendemos ontem?" {
		t.Errorf("text = %q", ev.Text)
	}
	if ev.IsAudio {
		t.Error("text message flagged as audio")
	}
	if ev.PushName != "Maria" || ev.MessageID != "ABC123" {
		t.Errorf("metadata lost: %+v", ev)
	}
}

func TestNormalizeExtendedText(t *testing.T) {
	env := decodeEnvelope(t, `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net"},
			"message": {"extendedTextMessage": {"text": "qual o faturamento?"}}
		}
	}`)
	ev, noop := normalize(env)
	if noop != "" || ev.Text != "qual o faturamento?" {
		t.Fatalf("ev=%+v noop=%q", ev, noop)
	}
}

func TestNormalizeInlineAudio(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("opus-bytes"))
	env := decodeEnvelope(t, `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "id": "A1"},
			"message": {"audioMessage": {"mimetype": "audio/ogg"}, "base64": "`+audio+`"}
		}
	}`)
	ev, noop := normalize(env)
	if noop != "" {
		t.Fatalf("unexpected no-op %q", noop)
	}
	if !ev.IsAudio || string(ev.AudioData) != "opus-bytes" {
		t.Fatalf("audio not decoded: %+v", ev)
	}
}

func TestNormalizeNoOps(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"other event",
			`{"event": "connection.update", "data": {}}`,
			noopIgnoredEvent,
		},
		{
			"self sent",
			`{"event": "messages.upsert", "data": {"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": true}, "message": {"conversation": "oi"}}}`,
			noopSelf,
		},
		{
			"group chat",
			`{"event": "messages.upsert", "data": {"key": {"remoteJid": "123456789@g.us"}, "message": {"conversation": "oi"}}}`,
			noopGroup,
		},
		{
			"blank text",
			`{"event": "messages.upsert", "data": {"key": {"remoteJid": "5511999990000@s.whatsapp.net"}, "message": {"conversation": "   "}}}`,
			noopEmpty,
		},
		{
			"unsupported media",
			`{"event": "messages.upsert", "data": {"key": {"remoteJid": "5511999990000@s.whatsapp.net"}, "message": {}, "messageType": "imageMessage"}}`,
			noopUnsupported,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, noop := normalize(decodeEnvelope(t, tc.body))
			if ev != nil || noop != tc.want {
				t.Fatalf("ev=%+v noop=%q, want %q", ev, noop, tc.want)
			}
		})
	}
}
