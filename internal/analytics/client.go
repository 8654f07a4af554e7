// Package analytics talks to the external query engine that holds tenant
// business data. Authentication is a session-token exchange; the token is
// cached and refreshed once when the engine answers 401.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Engine is the query surface the agent loop depends on.
type Engine interface {
	ExecuteQuery(ctx context.Context, connectionID, datasetID, query string) (*QueryResult, error)
}

// QueryResult holds the rows returned by one query execution.
type QueryResult struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// Client is the HTTP implementation of Engine.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type sessionResponse struct {
	ID string `json:"id"`
}

// authenticate exchanges credentials for a session token.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("analytics: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analytics: session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("analytics: session exchange returned %d: %s", resp.StatusCode, string(respBody))
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("analytics: parse session response: %w", err)
	}
	if session.ID == "" {
		return "", fmt.Errorf("analytics: session exchange returned empty token")
	}
	return session.ID, nil
}

// sessionToken returns the cached token, authenticating when empty.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// CheckAuth verifies the credentials with one session exchange.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, err := c.sessionToken(ctx)
	return err
}

// invalidateToken drops the cached token after a 401.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type queryRequest struct {
	ConnectionID string `json:"connection_id"`
	DatasetID    string `json:"dataset_id"`
	Query        string `json:"query"`
}

type queryResponse struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
	Error   string          `json:"error,omitempty"`
}

// ExecuteQuery runs one query scoped to (connection, dataset).
// On a 401 it refreshes the session token and retries once.
func (c *Client) ExecuteQuery(ctx context.Context, connectionID, datasetID, query string) (*QueryResult, error) {
	result, err := c.executeOnce(ctx, connectionID, datasetID, query)
	if err == errSessionExpired {
		slog.Debug("analytics: session expired, re-authenticating")
		c.invalidateToken()
		result, err = c.executeOnce(ctx, connectionID, datasetID, query)
	}
	return result, err
}

var errSessionExpired = fmt.Errorf("analytics: session expired")

func (c *Client) executeOnce(ctx context.Context, connectionID, datasetID, query string) (*QueryResult, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(queryRequest{
		ConnectionID: connectionID,
		DatasetID:    datasetID,
		Query:        query,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analytics: build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-Token", token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: query request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("analytics: query returned %d: %s", resp.StatusCode, string(respBody))
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("analytics: parse query response: %w", err)
	}
	if qr.Error != "" {
		return nil, fmt.Errorf("analytics: engine error: %s", qr.Error)
	}

	return &QueryResult{Columns: qr.Columns, Rows: qr.Rows}, nil
}

// maxRenderedRows caps how many rows are rendered into a tool result.
const maxRenderedRows = 50

// RenderForModel produces the compact pipe-separated rendering fed back to
// the LLM as a tool result.
func (r *QueryResult) RenderForModel() string {
	if len(r.Rows) == 0 {
		return "A consulta não retornou nenhuma linha."
	}

	var b strings.Builder
	if len(r.Columns) > 0 {
		b.WriteString(strings.Join(r.Columns, " | "))
		b.WriteByte('\n')
	}

	rows := r.Rows
	truncated := false
	if len(rows) > maxRenderedRows {
		rows = rows[:maxRenderedRows]
		truncated = true
	}

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%v", v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}

	if truncated {
		fmt.Fprintf(&b, "... (%d linhas no total, exibindo %d)\n", len(r.Rows), maxRenderedRows)
	}
	return strings.TrimRight(b.String(), "\n")
}
