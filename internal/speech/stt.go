// Package speech bridges between audio and text: transcription on ingest,
// synthesis with spoken-language normalization on egress.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Transcriber converts audio bytes into text in one fixed spoken language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// HTTPTranscriber calls an OpenAI-compatible /audio/transcriptions endpoint.
type HTTPTranscriber struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

func NewHTTPTranscriber(baseURL, apiKey, model, language string) *HTTPTranscriber {
	if model == "" {
		model = "whisper-1"
	}
	if language == "" {
		language = "pt"
	}
	return &HTTPTranscriber{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		language: language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("stt: empty audio payload")
	}

	// Multipart fields: file (audio bytes), model, language.
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "voice.ogg")
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("stt: write model field: %w", err)
	}
	if err := w.WriteField("language", t.language); err != nil {
		return "", fmt.Errorf("stt: write language field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	url := t.baseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result transcriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}

	slog.Debug("transcript received", "length", len(result.Text))
	return strings.TrimSpace(result.Text), nil
}

// CheckReachable probes the speech service base URL. Any HTTP response
// counts as reachable; auth and routing are exercised by the real calls.
func (t *HTTPTranscriber) CheckReachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("stt: service unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}
