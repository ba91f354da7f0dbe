package kibana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverse_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agent_builder/converse", r.URL.Path)
		assert.Equal(t, "ApiKey test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("kbn-xsrf"))

		var req converseRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "drift-diagnostician", req.AgentID)
		assert.Contains(t, req.Input, "surge_pricing")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"conversation_id":"conv-1","response":{"message":"Root cause: stale features."}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.Converse(context.Background(), "drift-diagnostician", "analyze drift in surge_pricing")

	require.NoError(t, err)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, "Root cause: stale features.", got.Message())
}

func TestConverse_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"conversation_id":"conv-2","response":{"message":"ok"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.Converse(context.Background(), "resolver", "fix it")

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Message())
	assert.Equal(t, int32(2), calls.Load())
}

func TestConverse_AgentNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"agent not found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.Converse(context.Background(), "nope", "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestListAgents_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/agent_builder/agents", r.URL.Path)
		w.Write([]byte(`{"results":[{"id":"drift-diagnostician","name":"Drift Diagnostician"},{"id":"resolver","name":"Resolver"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	agents, err := client.ListAgents(context.Background())

	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "drift-diagnostician", agents[0].ID)
}

func TestStatus_Down(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-key")
	err := client.Status(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
