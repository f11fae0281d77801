package moderation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestCheckPassesVerdictThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/moderate", r.URL.Path)

		var request struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "something vile", request.Text)

		_ = json.NewEncoder(w).Encode(Result{Allowed: false, Reason: "toxicity", Confidence: 0.97})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, Logger: testLogger()})
	require.NoError(t, err)

	result, err := client.Check(context.Background(), "something vile")
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, "toxicity", result.Reason)
	require.InDelta(t, 0.97, result.Confidence, 0.001)
}

func TestCheckAllowsCleanContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Allowed: true})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, Logger: testLogger()})
	require.NoError(t, err)

	result, err := client.Check(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

func TestCheckFailsOpenOnTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := New(Config{BaseURL: server.URL, Logger: testLogger()})
	require.NoError(t, err)

	result, err := client.Check(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, result.Allowed, "unreachable service allows the content through")
}

func TestCheckStrictModeSurfacesTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := New(Config{BaseURL: server.URL, Strict: true, Logger: testLogger()})
	require.NoError(t, err)

	_, err = client.Check(context.Background(), "hello")
	require.Error(t, err)
}

func TestCheckFailsOpenOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL, Logger: testLogger()})
	require.NoError(t, err)

	result, err := client.Check(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, result.Allowed)

	strict, err := New(Config{BaseURL: server.URL, Strict: true, Logger: testLogger()})
	require.NoError(t, err)

	_, err = strict.Check(context.Background(), "hello")
	require.Error(t, err)
}

func TestCheckWithoutBaseURLAllowsEverything(t *testing.T) {
	client, err := New(Config{Logger: testLogger()})
	require.NoError(t, err)

	result, err := client.Check(context.Background(), "anything")
	require.NoError(t, err)
	require.True(t, result.Allowed)
}
