package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient implements Client against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *OpenAIClient) generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("api key is not configured")
	}
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("model API error: %s", apiErr.Error.Message)
		}
		return "", fmt.Errorf("model API request failed with status %d", resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("model returned an empty response")
	}
	return content, nil
}

func (c *OpenAIClient) ExtractRules(ctx context.Context, policyText string) ([]ExtractedRule, error) {
	content, err := c.generate(ctx, fmt.Sprintf(ruleExtractionPrompt, policyText))
	if err != nil {
		return nil, err
	}
	var rules []ExtractedRule
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &rules); err != nil {
		return nil, fmt.Errorf("parse extracted rules: %w", err)
	}
	return rules, nil
}

func (c *OpenAIClient) GenerateSQL(ctx context.Context, rule RuleSummary, schemaJSON string) (string, error) {
	content, err := c.generate(ctx, fmt.Sprintf(sqlGenerationPrompt, rule.Description, rule.EvaluationCriteria, schemaJSON))
	if err != nil {
		return "", err
	}
	return stripCodeFence(content), nil
}

func (c *OpenAIClient) ExplainViolation(ctx context.Context, rule RuleSummary, recordJSON string) (string, error) {
	return c.generate(ctx, fmt.Sprintf(justificationPrompt, rule.Description, rule.EvaluationCriteria, recordJSON))
}

func (c *OpenAIClient) SuggestRemediation(ctx context.Context, violation ViolationSummary) (string, error) {
	return c.generate(ctx, fmt.Sprintf(remediationPrompt, violation.RuleDescription, violation.Justification, violation.RecordJSON))
}

// stripCodeFence unwraps a ```sql / ```json fenced block when the model
// ignores the "no additional text" instruction.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
