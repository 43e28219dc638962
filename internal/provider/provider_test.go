package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/research"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

type fakeProtocol struct {
	reply    string
	err      error
	delay    time.Duration
	requests []*ChatCompletionRequest
}

func (f *fakeProtocol) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(req.Model, f.reply), nil
}

func newTestSLM(p Protocol) *SLM {
	return NewSLM(p, Options{Model: "test-model", Timeout: time.Second}, nil, nil)
}

func TestGenerateStrategy_ParsesFencedJSON(t *testing.T) {
	p := &fakeProtocol{reply: "<think>hmm</think>\n```json\n{\"icp\": \"Seed-stage SaaS on Postgres\", \"keywords\": [\"postgres\", \"Postgres\", \" serverless \"], \"competitors\": [\"Neon\"]}\n```"}
	slm := newTestSLM(p)

	draft, err := slm.GenerateStrategy(context.Background(), StrategyInput{
		ProductDescription: "Managed Postgres",
		MarketResearch:     &research.MarketResearch{},
	})
	require.NoError(t, err)
	assert.Equal(t, "Seed-stage SaaS on Postgres", draft.ICP)
	assert.Equal(t, []string{"postgres", "serverless"}, draft.Keywords)
	assert.Equal(t, []string{"Neon"}, draft.Competitors)

	require.Len(t, p.requests, 1)
	assert.Equal(t, strategySystemPrompt, p.requests[0].Messages[0].Content)
}

func TestGenerateStrategy_UsesRefinePromptWithLessons(t *testing.T) {
	p := &fakeProtocol{reply: `{"icp": "x", "keywords": [], "competitors": []}`}
	slm := newTestSLM(p)

	_, err := slm.GenerateStrategy(context.Background(), StrategyInput{
		ProductDescription: "Managed Postgres",
		Lessons: []*models.Lesson{
			{Type: models.LessonCompanyTooSmall, Details: "Tiny Co has 5 employees"},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.requests, 1)
	assert.Equal(t, refineSystemPrompt, p.requests[0].Messages[0].Content)
	assert.Contains(t, p.requests[0].Messages[1].Content, "- [CompanyTooSmall] Tiny Co has 5 employees")
}

func TestGenerateStrategy_Malformed(t *testing.T) {
	replies := map[string]string{
		"not json":         "I think you should target startups.",
		"empty icp":        `{"icp": "  ", "keywords": [], "competitors": []}`,
		"missing keywords": `{"icp": "x", "competitors": []}`,
		"keywords string":  `{"icp": "x", "keywords": "postgres", "competitors": []}`,
	}
	for name, reply := range replies {
		slm := newTestSLM(&fakeProtocol{reply: reply})
		_, err := slm.GenerateStrategy(context.Background(), StrategyInput{ProductDescription: "p"})
		assert.True(t, errors.Is(err, faults.ErrMalformedModelOutput), "%s: got %v", name, err)
	}
}

func TestClassifyLead_ReturnsRawLabel(t *testing.T) {
	p := &fakeProtocol{reply: "  Strike.\n"}
	slm := newTestSLM(p)

	label, err := slm.ClassifyLead(context.Background(), LeadInput{
		ProductDescription: "Managed Postgres",
		TriggerEvents:      "No recent trigger events detected from web research.",
		CompanyContext:     "Acme (Series A, ~40 employees) using Postgres.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Strike.", label)

	prompt := p.requests[0].Messages[1].Content
	assert.True(t, strings.HasPrefix(prompt, "Product/Service Description: Managed Postgres\nTrigger Events: "))
	assert.Contains(t, prompt, "\nCompany Context: Acme")
	assert.Equal(t, 20, p.requests[0].MaxTokens)
}

func TestClassifyLead_Timeout(t *testing.T) {
	p := &fakeProtocol{delay: time.Second}
	slm := NewSLM(p, Options{Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := slm.ClassifyLead(context.Background(), LeadInput{})
	assert.True(t, errors.Is(err, faults.ErrCollaboratorTimeout), "got %v", err)
}

func TestDraftOutreach(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		subject string
		body    string
		err     error
	}{
		{"json", `{"subject": "Sorry about DigitalOcean", "body": "Hi team"}`, "Sorry about DigitalOcean", "Hi team", nil},
		{"fenced json without subject", "```\n{\"body\": \"Hi team\"}\n```", defaultOutreachSubject, "Hi team", nil},
		{"plain text", "Hi team, saw the outage.", defaultOutreachSubject, "Hi team, saw the outage.", nil},
		{"empty", "   ", "", "", faults.ErrMalformedModelOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slm := newTestSLM(&fakeProtocol{reply: tt.reply})
			out, err := slm.DraftOutreach(context.Background(), OutreachInput{TriggerContext: "DigitalOcean critical outage"})
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, out.Subject)
			assert.Equal(t, tt.body, out.Body)
		})
	}
}

func TestPioneerProvider_ResponseShapes(t *testing.T) {
	shapes := map[string]string{
		"completion":     `{"completion": "Monitor"}`,
		"output":         `{"output": "Monitor"}`,
		"generated_text": `{"generated_text": "Monitor"}`,
		"choices":        `{"choices": [{"message": {"role": "assistant", "content": "Monitor"}}]}`,
	}
	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/inference", r.URL.Path)
				assert.Equal(t, "pk-test", r.Header.Get("X-API-Key"))
				var req pioneerRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "generate", req.Task)
				assert.Equal(t, "base:Qwen/Qwen3-8B", req.ModelID)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			p := NewPioneerProvider(srv.URL, "pk-test")
			resp, err := p.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
				Model:    "base:Qwen/Qwen3-8B",
				Messages: []ChatMessage{{Role: "user", Content: "hi"}},
			})
			require.NoError(t, err)
			assert.Equal(t, "Monitor", resp.Content())
		})
	}
}

func TestPioneerProvider_UnknownShapeReturnedVerbatim(t *testing.T) {
	content, err := pioneerContent([]byte(`{"result": 1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"result": 1}`, content)
}

func TestOpenAIProvider_BearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id": "1", "choices": [{"message": {"role": "assistant", "content": "Disregard"}}]}`))
	}))
	defer srv.Close()

	resp, err := NewOpenAIProvider(srv.URL+"/", "sk-test").CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Disregard", resp.Content())
}

func TestNewProtocol(t *testing.T) {
	p, err := NewProtocol("pioneer", "http://x", "")
	require.NoError(t, err)
	assert.IsType(t, &PioneerProvider{}, p)

	p, err = NewProtocol("openai", "http://x", "")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProtocol("anthropic", "http://x", "")
	assert.Error(t, err)
}
