package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Synthesizer converts text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// HTTPSynthesizer calls an OpenAI-compatible /audio/speech endpoint.
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	model   string
	voice   string
	format  string
	client  *http.Client
}

func NewHTTPSynthesizer(baseURL, apiKey, model, voice, format string) *HTTPSynthesizer {
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	if voice == "" {
		voice = "alloy"
	}
	if format == "" {
		format = "opus"
	}
	return &HTTPSynthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		format:  format,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("tts: empty input text")
	}

	body, _ := json.Marshal(map[string]string{
		"model":           s.model,
		"voice":           s.voice,
		"input":           text,
		"response_format": s.format,
	})

	url := s.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("tts: read audio bytes: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: upstream returned empty audio")
	}
	return audio, nil
}
