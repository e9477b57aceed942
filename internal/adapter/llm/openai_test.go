package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "SUMMARY: Clear lungs."}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
}`

func newOpenAITestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAI(url string) *OpenAIProvider {
	return NewOpenAIProvider(config.ProviderConfig{
		Type:        "openai",
		BaseURL:     url,
		APIKey:      "sk-test",
		Model:       "gpt-4o",
		RespTimeout: 5 * time.Second,
	}, nil)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var seen map[string]any
	srv := newOpenAITestServer(t, http.StatusOK, completionJSON, &seen)

	resp, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are a radiologist."},
			{Role: domain.RoleUser, Content: "Describe this image.", ImageURL: "data:image/png;base64,aGVsbG8="},
		},
		MaxTokens:   500,
		Temperature: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "SUMMARY: Clear lungs.", resp.Message.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1700000000), resp.CreatedAt.Unix())

	assert.Equal(t, "gpt-4o", seen["model"])
	assert.EqualValues(t, 500, seen["max_tokens"])
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "You are a radiologist.", msgs[0].(map[string]any)["content"])

	parts := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	img := parts[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", img["image_url"].(map[string]any)["url"])
	assert.NotContains(t, seen, "response_format")
}

func TestOpenAIProvider_JSONMode(t *testing.T) {
	var seen map[string]any
	srv := newOpenAITestServer(t, http.StatusOK, completionJSON, &seen)

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "Return JSON"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK, `{"id":"x","choices":[]}`, nil)

	_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.ErrorIs(t, err, domain.ErrUnexpectedResponse)
	assert.Contains(t, err.Error(), "No prediction returned from model")
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimit},
		{"bad key", http.StatusUnauthorized, domain.ErrAuthInvalid},
		{"server error", http.StatusInternalServerError, domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenAITestServer(t, tt.status,
				`{"error":{"message":"nope","type":"server_error","code":null}}`, nil)

			_, err := newTestOpenAI(srv.URL).Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
			})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProvider_Name(t *testing.T) {
	assert.Equal(t, "openai", newTestOpenAI("http://localhost").Name())
}
