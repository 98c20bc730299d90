package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Token: "xoxb-test", APIURL: server.URL, RateLimit: 1000})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")

	client, err := NewClient(Config{Token: "xoxb-test"})
	require.NoError(t, err)
	assert.Equal(t, defaultAPIURL, client.apiURL)
	assert.Equal(t, defaultTimeout, client.config.Timeout)
}

func TestClient_PostMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))

		var req postMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "C123", req.Channel)
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "1700000000.000100", req.ThreadTS)

		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000200"}`))
	})

	ts, err := client.PostMessage(context.Background(), "C123", "hello", "1700000000.000100")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000200", ts)
}

func TestClient_PostMessage_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})

	_, err := client.PostMessage(context.Background(), "C404", "hello", "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "channel_not_found", apiErr.Message)
	assert.False(t, IsRetryable(err))
}

func TestClient_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.PostMessage(context.Background(), "C123", "hello", "")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 30*time.Second, GetRetryAfter(err))
}

func TestClient_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.PostMessage(context.Background(), "C123", "hello", "")
	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, http.StatusServiceUnavailable, retryErr.Code)
}

func TestClient_ChannelID_PaginatesAndCaches(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations.list", r.URL.Path)
		calls.Add(1)
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general"}],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"channels":[{"id":"C2","name":"incident-alerts"}],"response_metadata":{"next_cursor":""}}`))
	})

	id, err := client.ChannelID(context.Background(), "#incident-alerts")
	require.NoError(t, err)
	assert.Equal(t, "C2", id)
	assert.Equal(t, int32(2), calls.Load())

	id, err = client.ChannelID(context.Background(), "incident-alerts")
	require.NoError(t, err)
	assert.Equal(t, "C2", id)
	assert.Equal(t, int32(2), calls.Load(), "second lookup served from cache")
}

func TestClient_ChannelID_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"channels":[]}`))
	})

	_, err := client.ChannelID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_UserID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users.list", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"members":[
			{"id":"U0","name":"old","deleted":true,"profile":{"display_name":"jdoe"}},
			{"id":"U1","name":"jane","profile":{"display_name":"jdoe","real_name":"Jane Doe"}},
			{"id":"U2","name":"max","profile":{"display_name":"","real_name":"Max Payne"}}
		]}`))
	})

	id, err := client.UserID(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Equal(t, "U1", id)

	id, err = client.UserID(context.Background(), "Max Payne")
	require.NoError(t, err)
	assert.Equal(t, "U2", id)

	_, err = client.UserID(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_HasReactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reactions.get", r.URL.Path)
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		switch r.URL.Query().Get("timestamp") {
		case "1.1":
			_, _ = w.Write([]byte(`{"ok":true,"message":{"reactions":[{"name":"eyes","count":1}]}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"message":{}}`))
		}
	})

	acked, err := client.HasReactions(context.Background(), "C1", "1.1")
	require.NoError(t, err)
	assert.True(t, acked)

	acked, err = client.HasReactions(context.Background(), "C1", "2.2")
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestClient_ContextCancellation(t *testing.T) {
	client, err := NewClient(Config{Token: "xoxb-test", APIURL: "http://localhost:12345", RateLimit: 0.001})
	require.NoError(t, err)
	client.limiter.AllowN(time.Now(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.PostMessage(ctx, "C1", "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "slack chat.postMessage error: not_in_channel",
		(&APIError{Method: "chat.postMessage", Message: "not_in_channel"}).Error())
	assert.Contains(t, (&RateLimitError{RetryAfter: 5 * time.Second, Message: "users.list"}).Error(), "5s")
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(assert.AnError))
}
