// Package interpret – fallback.go implements the language-model
// fallback interpreter over the OpenAI-compatible chat completions
// API, which works with OpenAI, Anthropic proxies, GLM, and any
// compatible endpoint.
package interpret

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/config"
)

// Fallback interprets text the pattern rules could not place, by
// asking a language-model backend with a fixed instruction contract.
type Fallback struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFallback creates a fallback interpreter from config. A client is
// always returned; with no API key configured every Interpret call
// resolves to a Failure without touching the network.
func NewFallback(cfg config.LLMConfig, logger *slog.Logger) *Fallback {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Fallback{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "fallback"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// interpretationReply is the structured object the backend must
// produce, per the instruction contract.
type interpretationReply struct {
	Success     bool           `json:"success"`
	CommandType string         `json:"command_type"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description"`
	ErrorDetail string         `json:"error"`
}

// Interpret asks the backend to turn text into an action. Every
// failure mode — backend unreachable, timeout, malformed reply,
// unknown operation, not configured — resolves to *Failure; Interpret
// never panics and never returns a transport error directly.
func (f *Fallback) Interpret(ctx context.Context, text string, deviceContext string) (*Action, error) {
	if f.apiKey == "" {
		return nil, &Failure{Reason: "fallback interpreter unavailable"}
	}

	userContent := text
	if deviceContext != "" {
		userContent = text + "\n\n" + deviceContext
	}

	reqBody := chatRequest{
		Model: f.model,
		Messages: []chatMessage{
			{Role: "system", Content: instructionPrompt()},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("marshaling request: %v", err)}
	}

	endpoint := f.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	f.logger.Debug("sending interpretation request",
		"model", f.model,
		"endpoint", endpoint,
	)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("backend unreachable: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		f.logger.Error("backend error",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return nil, &Failure{Reason: fmt.Sprintf("backend returned %d", resp.StatusCode)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("parsing response: %v", err)}
	}
	if chatResp.Error != nil {
		return nil, &Failure{Reason: "backend error: " + chatResp.Error.Message}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &Failure{Reason: "no response from model"}
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)

	f.logger.Info("interpretation done",
		"model", f.model,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return ParseReply(content)
}

// ParseReply normalizes and validates the backend's structured reply.
// The reply may be wrapped in one fenced code block; exactly one such
// wrapper is stripped before parsing.
func ParseReply(content string) (*Action, error) {
	content = StripFence(content)

	var reply interpretationReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, &Failure{Reason: fmt.Sprintf("malformed backend reply: %v", err)}
	}

	if !reply.Success {
		reason := reply.ErrorDetail
		if reason == "" {
			reason = "backend could not interpret the command"
		}
		return nil, &Failure{Reason: reason}
	}

	category, ok := KnownOperation(reply.Action)
	if !ok {
		return nil, &Failure{Reason: fmt.Sprintf("unknown operation %q", reply.Action)}
	}

	// The vocabulary, not the model, decides the category.
	params := make(map[string]string, len(reply.Parameters))
	for k, v := range reply.Parameters {
		params[k] = fmt.Sprint(v)
	}

	return &Action{
		Category:   category,
		Operation:  reply.Action,
		Parameters: params,
		Origin:     OriginInferred,
	}, nil
}

// StripFence removes one leading/trailing fenced code block wrapper,
// if present. "```json\n{...}\n```" and "```\n{...}\n```" both reduce
// to the inner payload; unfenced content passes through unchanged.
func StripFence(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+len("```"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
