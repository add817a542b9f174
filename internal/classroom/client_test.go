package classroom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestStartSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/classroom/class-7/session/start", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"session": map[string]string{"id": "sess-1"}})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api/", testLog())
	id, err := client.StartSession(context.Background(), "class-7")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
}

func TestStartSessionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", testLog())
	_, err := client.StartSession(context.Background(), "class-7")
	assert.ErrorContains(t, err, "status 500")
}

func TestStartSessionMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"session": map[string]string{}})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", testLog())
	_, err := client.StartSession(context.Background(), "class-7")
	assert.ErrorContains(t, err, "missing session id")
}

func TestEndSession(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/classroom/class-7/session/end", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", testLog())
	err := client.EndSession(context.Background(), "class-7", "sess-1", "https://cdn.example.com/rec.ivf")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got["sessionId"])
	assert.Equal(t, "https://cdn.example.com/rec.ivf", got["recordingUrl"])
}

func TestEndSessionFailureIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", testLog())
	err := client.EndSession(context.Background(), "class-7", "sess-1", "")
	assert.ErrorContains(t, err, "status 502")
}
