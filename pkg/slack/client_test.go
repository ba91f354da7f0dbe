package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "Drift detected on surge_pricing", msg.Text)
		require.Len(t, msg.Blocks, 2)
		assert.Equal(t, "header", msg.Blocks[0].Type)

		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewClient(map[string]string{"alerts-drift": srv.URL})
	err := client.Post(context.Background(), "alerts-drift", Message{
		Text: "Drift detected on surge_pricing",
		Blocks: []Block{
			Header("Drift Alert"),
			Section("KL divergence *0.63* exceeded threshold 0.30"),
		},
	})
	require.NoError(t, err)
}

func TestPost_UnknownChannel(t *testing.T) {
	t.Parallel()

	client := NewClient(map[string]string{})
	err := client.Post(context.Background(), "alerts-catalog", Message{Text: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no webhook configured")
}

func TestPost_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	client := NewClient(map[string]string{"alerts-drift": srv.URL})
	err := client.Post(context.Background(), "alerts-drift", Message{Text: "x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "invalid_payload")
}

func TestFieldSection(t *testing.T) {
	t.Parallel()

	b := FieldSection(map[string]string{"Algorithm": "surge_pricing"})
	require.Len(t, b.Fields, 1)
	assert.Equal(t, "*Algorithm:*\nsurge_pricing", b.Fields[0].Text)
}
