package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newEngineServer fakes the analytics engine: /api/session issues tokens,
// /api/query validates them.
func newEngineServer(t *testing.T, validTokens map[string]bool, nextToken func() string, queryFn func(q queryRequest) queryResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/session":
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "bot" || creds["password"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			token := nextToken()
			validTokens[token] = true
			json.NewEncoder(w).Encode(map[string]string{"id": token})

		case "/api/query":
			if !validTokens[r.Header.Get("X-Session-Token")] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var q queryRequest
			json.NewDecoder(r.Body).Decode(&q)
			json.NewEncoder(w).Encode(queryFn(q))

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestExecuteQueryExchangesToken(t *testing.T) {
	sessions := 0
	srv := newEngineServer(t, map[string]bool{},
		func() string { sessions++; return fmt.Sprintf("tok-%d", sessions) },
		func(q queryRequest) queryResponse {
			if q.ConnectionID != "conn-1" || q.DatasetID != "10" {
				t.Errorf("scope lost: %+v", q)
			}
			return queryResponse{Columns: []string{"total"}, Rows: [][]interface{}{{1500}}}
		})
	defer srv.Close()

	c := NewClient(srv.URL, "bot", "secret")
	res, err := c.ExecuteQuery(context.Background(), "conn-1", "10", "total de vendas")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(res.Rows) != 1 || res.Columns[0] != "total" {
		t.Fatalf("unexpected result %+v", res)
	}

	// Second query reuses the cached token.
	if _, err := c.ExecuteQuery(context.Background(), "conn-1", "10", "outra"); err != nil {
		t.Fatalf("second query: %v", err)
	}
	if sessions != 1 {
		t.Fatalf("expected 1 session exchange, got %d", sessions)
	}
}

func TestExecuteQueryReauthenticatesOn401(t *testing.T) {
	valid := map[string]bool{}
	sessions := 0
	srv := newEngineServer(t, valid,
		func() string { sessions++; return fmt.Sprintf("tok-%d", sessions) },
		func(q queryRequest) queryResponse {
			return queryResponse{Columns: []string{"x"}}
		})
	defer srv.Close()

	c := NewClient(srv.URL, "bot", "secret")
	if _, err := c.ExecuteQuery(context.Background(), "c", "1", "q"); err != nil {
		t.Fatal(err)
	}

	// Expire the session server-side; the next query must re-auth once.
	valid["tok-1"] = false
	if _, err := c.ExecuteQuery(context.Background(), "c", "1", "q"); err != nil {
		t.Fatalf("query after expiry: %v", err)
	}
	if sessions != 2 {
		t.Fatalf("expected a second session exchange, got %d", sessions)
	}
}

func TestExecuteQueryEngineError(t *testing.T) {
	srv := newEngineServer(t, map[string]bool{},
		func() string { return "tok" },
		func(q queryRequest) queryResponse {
			return queryResponse{Error: "coluna inexistente"}
		})
	defer srv.Close()

	c := NewClient(srv.URL, "bot", "secret")
	_, err := c.ExecuteQuery(context.Background(), "c", "1", "q")
	if err == nil || !strings.Contains(err.Error(), "coluna inexistente") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestExecuteQueryBadCredentials(t *testing.T) {
	srv := newEngineServer(t, map[string]bool{},
		func() string { return "tok" },
		func(q queryRequest) queryResponse { return queryResponse{} })
	defer srv.Close()

	c := NewClient(srv.URL, "bot", "wrong")
	if _, err := c.ExecuteQuery(context.Background(), "c", "1", "q"); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestRenderForModel(t *testing.T) {
	empty := &QueryResult{Columns: []string{"a"}}
	if out := empty.RenderForModel(); !strings.Contains(out, "nenhuma linha") {
		t.Errorf("empty rendering = %q", out)
	}

	res := &QueryResult{
		Columns: []string{"mes", "total"},
		Rows:    [][]interface{}{{"jan", 100}, {"fev", 200}},
	}
	out := res.RenderForModel()
	if !strings.Contains(out, "mes | total") || !strings.Contains(out, "fev | 200") {
		t.Errorf("rendering = %q", out)
	}
}

func TestRenderForModelTruncatesRows(t *testing.T) {
	res := &QueryResult{Columns: []string{"n"}}
	for i := 0; i < 80; i++ {
		res.Rows = append(res.Rows, []interface{}{i})
	}
	out := res.RenderForModel()
	if !strings.Contains(out, "80 linhas no total") {
		t.Errorf("missing truncation note: %q", out)
	}
	if lines := strings.Count(out, "\n"); lines > maxRenderedRows+2 {
		t.Errorf("too many rendered lines: %d", lines)
	}
}
