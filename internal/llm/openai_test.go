package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func TestGenerateSQLStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Write([]byte(chatReply("```sql\nSELECT id FROM users\n```")))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL)
	sql, err := client.GenerateSQL(context.Background(), RuleSummary{Description: "d", EvaluationCriteria: "c"}, "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != "SELECT id FROM users" {
		t.Fatalf("unexpected sql %q", sql)
	}
}

func TestGenerateSQLEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("   ")))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL)
	_, err := client.GenerateSQL(context.Background(), RuleSummary{}, "{}")
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestGenerateSQLAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL)
	_, err := client.GenerateSQL(context.Background(), RuleSummary{}, "{}")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	client := NewOpenAIClient("", "gpt-4o-mini", "")
	_, err := client.GenerateSQL(context.Background(), RuleSummary{}, "{}")
	if err == nil || !strings.Contains(err.Error(), "api key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestExtractRulesParsesFencedJSON(t *testing.T) {
	payload := `[{"rule_code":"GDPR-001","description":"d","evaluation_criteria":"c","severity":"high","target_entities":"users"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("```json\n" + payload + "\n```")))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL)
	rules, err := client.ExtractRules(context.Background(), "policy text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].RuleCode != "GDPR-001" || rules[0].Severity != "high" {
		t.Fatalf("unexpected rule %+v", rules[0])
	}
}

func TestExtractRulesRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply("I could not find any rules.")))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", "gpt-4o-mini", srv.URL)
	_, err := client.ExtractRules(context.Background(), "policy text")
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"SELECT 1 FROM t":              "SELECT 1 FROM t",
		"```sql\nSELECT 1 FROM t\n```": "SELECT 1 FROM t",
		"```\nSELECT 1 FROM t\n```":    "SELECT 1 FROM t",
		"  ```json\n[1,2]\n```  ":      "[1,2]",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
