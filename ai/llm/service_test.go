package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)

	_, err = NewService(&Config{BaseURL: "https://example.com/v1"})
	assert.Error(t, err, "missing api key")

	_, err = NewService(&Config{APIKey: "k", BaseURL: "  "})
	assert.Error(t, err, "missing base url")

	svc, err := NewService(&Config{APIKey: "k", BaseURL: "https://example.com/v1"})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.openai-proxy.com/v1/chat/completions", "https://api.openai-proxy.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{" https://proxy.geekai.co/v1 ", "https://proxy.geekai.co/v1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBaseURL(tt.in), tt.in)
	}
}

func TestChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	svc, err := NewService(&Config{
		APIKey: "sk-test", BaseURL: srv.URL + "/v1/chat/completions", Model: "gpt-3.5-turbo", MaxTokens: 100, Temperature: 0.5,
	})
	require.NoError(t, err)

	content, stats, err := svc.Chat(context.Background(), FormatMessages("be nice", "Hi", []Message{
		UserMessage("earlier"), AssistantMessage("reply"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", content)
	assert.Equal(t, 7, stats.TotalTokens)

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.EqualValues(t, 100, got["max_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestChat_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream"}}`, nil},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrEmptyResponse},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`, ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			svc, err := NewService(&Config{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)
			_, _, err = svc.Chat(context.Background(), []Message{UserMessage("Hi")})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFormatMessages_NoSystemPrompt(t *testing.T) {
	msgs := FormatMessages("", "Hi", nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}
