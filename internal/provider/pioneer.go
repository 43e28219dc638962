package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PioneerProvider implements Protocol for the Pioneer inference API, which
// authenticates with an X-API-Key header and answers in one of several
// response shapes depending on the deployed model.
type PioneerProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewPioneerProvider creates a Pioneer provider
func NewPioneerProvider(endpoint, apiKey string) *PioneerProvider {
	return &PioneerProvider{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type pioneerRequest struct {
	ModelID   string        `json:"model_id"`
	Task      string        `json:"task"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// CreateChatCompletion sends a generate request and normalises the reply
func (p *PioneerProvider) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["X-API-Key"] = p.apiKey
	}
	respBody, err := postJSON(ctx, p.client, p.endpoint+"/inference", headers, pioneerRequest{
		ModelID:   req.Model,
		Task:      "generate",
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	content, err := pioneerContent(respBody)
	if err != nil {
		return nil, err
	}
	return textResponse(req.Model, content), nil
}

// pioneerContent extracts the generated text from any of the known response
// shapes. Unknown shapes are returned verbatim so the caller's parser
// decides whether they are usable.
func pioneerContent(body []byte) (string, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	for _, key := range []string{"completion", "output", "generated_text"} {
		if raw, ok := data[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s, nil
			}
		}
	}
	if raw, ok := data["choices"]; ok {
		var choices []Choice
		if err := json.Unmarshal(raw, &choices); err == nil && len(choices) > 0 {
			return choices[0].Message.Content, nil
		}
	}
	return string(body), nil
}
