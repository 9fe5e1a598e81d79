package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, handler http.HandlerFunc) *BridgeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBridgeClient(srv.URL+"/", "secret")
}

func TestBridgeClient_FetchNextMessage(t *testing.T) {
	t.Run("list payload", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/messages/next", r.URL.Path)
			assert.Equal(t, "secret", r.Header.Get("x-bridge-api-key"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["filter_mute"])
			_, _ = w.Write([]byte(`{"chat_name":"Alice","chat_type":"friend","msg":[
				{"content":"Hi","sender":"Alice","attr":"friend","type":"text","time":"10:01","hash":123},
				{"content":"yo","sender":"Self","attr":"self"}]}`))
		})

		batch, err := c.FetchNextMessage(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "Alice", batch.ChatName)
		assert.Equal(t, "friend", batch.ChatKind)
		require.Len(t, batch.Messages, 2)
		assert.Equal(t, "Hi", batch.Messages[0].Content)
		assert.Equal(t, "123", batch.Messages[0].Hash)
		assert.Equal(t, DirectionPeer, batch.Messages[0].Direction())
		assert.Equal(t, DirectionSelf, batch.Messages[1].Direction())
		assert.Equal(t, "text", batch.Messages[1].Type)
	})

	t.Run("single object payload", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"who":"Bob","msg":{"content":"hey","sender":"Bob","attr":"friend"}}`))
		})

		batch, err := c.FetchNextMessage(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "Bob", batch.ChatName)
		require.Len(t, batch.Messages, 1)
		assert.Equal(t, "hey", batch.Messages[0].Content)
	})

	t.Run("no content", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		batch, err := c.FetchNextMessage(context.Background(), true)
		require.NoError(t, err)
		assert.True(t, batch.IsEmpty())
	})

	t.Run("empty object", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})

		batch, err := c.FetchNextMessage(context.Background(), true)
		require.NoError(t, err)
		assert.True(t, batch.IsEmpty())
	})

	t.Run("client logged out", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := c.FetchNextMessage(context.Background(), true)
		assert.True(t, errors.Is(err, ErrNotConnected))
	})
}

func TestBridgeClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		wantErr error
	}{
		{"connected", `{"status":"connected"}`, http.StatusOK, nil},
		{"connected flag", `{"connected":true}`, http.StatusOK, nil},
		{"disconnected", `{"status":"disconnected"}`, http.StatusOK, ErrNotConnected},
		{"server error", ``, http.StatusInternalServerError, ErrUnreachable},
		{"bad key", ``, http.StatusUnauthorized, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			err := c.HealthCheck(context.Background())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestBridgeClient_MyInfo(t *testing.T) {
	t.Run("object with alternate keys", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"display_name":"Shop","user_id":"wxid_42"}`))
		})
		id, err := c.MyInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Shop", id.Nickname)
		assert.Equal(t, "wxid_42", id.AccountID)
		assert.True(t, id.Valid())
	})

	t.Run("bare string", func(t *testing.T) {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`"Shop"`))
		})
		id, err := c.MyInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Shop", id.Nickname)
		assert.Empty(t, id.AccountID)
	})
}

func TestBridgeClient_LoadMoreHistory(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantMore bool
		noMore   bool
	}{
		{"loaded", `{"status":"成功"}`, true, false},
		{"top reached", `{"status":"失败","message":"没有更多消息了"}`, false, true},
		{"other failure", `{"status":"失败","message":"window not found"}`, false, false},
		{"empty", `{}`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			res, err := c.LoadMoreHistory(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantMore, res.More)
			assert.Equal(t, tt.noMore, IsNoMoreHistory(res))
		})
	}
}

func TestBridgeClient_FetchAllMessages(t *testing.T) {
	for _, body := range []string{
		`[{"content":"a","sender":"Alice","attr":"friend"},{"content":"10:00","sender":"base","attr":"base","type":"other"}]`,
		`{"messages":[{"content":"a","sender":"Alice","attr":"friend"},{"content":"10:00","sender":"base","attr":"base","type":"other"}]}`,
	} {
		c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		msgs, err := c.FetchAllMessages(context.Background())
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, KindText, msgs[0].Kind())
		assert.Equal(t, KindTimeMarker, msgs[1].Kind())
	}
}

func TestBridgeClient_Send(t *testing.T) {
	var got map[string]any
	c := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		switch r.URL.Path {
		case "/send":
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/messages/reply":
			_, _ = w.Write([]byte(`{"success":false,"message":"window closed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ok, err := c.Send(context.Background(), "Alice", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", got["who"])
	assert.Equal(t, "hello", got["msg"])

	ok, err = c.SendReply(context.Background(), &Message{Content: "Hi", Sender: "Alice"}, "hello")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "hello", got["text"])

	_, err = c.OpenConversation(context.Background(), "Alice")
	assert.Error(t, err)
}

func TestBridgeError_IsRetryable(t *testing.T) {
	assert.True(t, ErrUnreachable.IsRetryable())
	assert.True(t, ErrNotConnected.IsRetryable())
	assert.False(t, ErrUnauthorized.IsRetryable())
	assert.False(t, ErrInvalidPayload.IsRetryable())

	wrapped := wrapErr(ErrUnreachable, errors.New("dial tcp"))
	assert.True(t, errors.Is(wrapped, ErrUnreachable))
	assert.Contains(t, wrapped.Error(), "dial tcp")
}
