// Package llm wraps the text-generation capability behind a narrow
// interface. The orchestrator only ever sees Generate(prompt) -> text.
package llm

import (
	"context"
	"strings"

	httputils "medtriage/medtriage/utils/http"
	"medtriage/medtriage/utils/logging"
)

// Generator is the text-generation contract consumed by the workflows.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaClient talks to an Ollama-compatible chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
}

func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{baseURL: baseURL, model: model}
}

type ChatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  interface{} `json:"options,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	defer logging.LogDuration(ctx, "llm_generate")()

	req := ChatRequest{
		Model:    c.model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	var resp ChatResponse
	if err := httputils.PostJSON(ctx, c.baseURL+"/chat", req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
