// Package channel is the REST client for the messaging gateway. Each
// ChannelInstance row carries its own endpoint and credential, so every
// call is parametrized by the instance it goes through.
package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zapbi/zapbi/internal/store"
)

// Gateway is the outbound messaging surface the orchestrator depends on.
type Gateway interface {
	SendText(ctx context.Context, inst *store.ChannelInstance, to, text string) error
	SendAudio(ctx context.Context, inst *store.ChannelInstance, to string, audio []byte) error
	FetchMedia(ctx context.Context, inst *store.ChannelInstance, messageID string) ([]byte, error)
}

// Client implements Gateway over the gateway's HTTP API.
type Client struct {
	client *http.Client
}

func NewClient() *Client {
	return &Client{client: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) SendText(ctx context.Context, inst *store.ChannelInstance, to, text string) error {
	payload := map[string]interface{}{
		"number": to,
		"text":   text,
	}
	if err := c.post(ctx, inst, "/message/sendText/"+inst.Name, payload, nil); err != nil {
		return fmt.Errorf("send text via %s: %w", inst.Name, err)
	}
	return nil
}

// SendAudio delivers a voice note. When the dedicated audio operation fails,
// it falls back to the generic media send before giving up.
func (c *Client) SendAudio(ctx context.Context, inst *store.ChannelInstance, to string, audio []byte) error {
	encoded := base64.StdEncoding.EncodeToString(audio)

	err := c.post(ctx, inst, "/message/sendWhatsAppAudio/"+inst.Name, map[string]interface{}{
		"number": to,
		"audio":  encoded,
	}, nil)
	if err == nil {
		return nil
	}

	slog.Warn("audio send failed, falling back to generic media send",
		"instance", inst.Name, "error", err)

	fallbackErr := c.post(ctx, inst, "/message/sendMedia/"+inst.Name, map[string]interface{}{
		"number":    to,
		"mediatype": "audio",
		"media":     encoded,
	}, nil)
	if fallbackErr != nil {
		return fmt.Errorf("send audio via %s: %w (fallback: %v)", inst.Name, err, fallbackErr)
	}
	return nil
}

type mediaResponse struct {
	Base64 string `json:"base64"`
}

// FetchMedia retrieves the raw bytes of a message's media attachment for
// audio that was not inlined in the webhook payload.
func (c *Client) FetchMedia(ctx context.Context, inst *store.ChannelInstance, messageID string) ([]byte, error) {
	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"key": map[string]interface{}{"id": messageID},
		},
	}

	var resp mediaResponse
	if err := c.post(ctx, inst, "/chat/getBase64FromMediaMessage/"+inst.Name, payload, &resp); err != nil {
		return nil, fmt.Errorf("fetch media via %s: %w", inst.Name, err)
	}
	if resp.Base64 == "" {
		return nil, fmt.Errorf("fetch media via %s: empty payload", inst.Name)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, fmt.Errorf("fetch media via %s: decode base64: %w", inst.Name, err)
	}
	return data, nil
}

// post sends one JSON request authenticated with the instance credential.
// When out is non-nil the response body is decoded into it.
func (c *Client) post(ctx context.Context, inst *store.ChannelInstance, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := strings.TrimRight(inst.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", inst.Credential)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CheckReachable probes a gateway endpoint. Any HTTP response counts as
// reachable; credentials are only exercised by the real send calls.
func (c *Client) CheckReachable(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(endpoint, "/"), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel: endpoint unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
