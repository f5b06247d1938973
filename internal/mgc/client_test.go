package mgc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPolicySelectsMatchingDevice(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"dispositivo_id":   "d9",
				"opcao_tratamento": map[string]any{"chave_politica": "RAW"},
			},
			{
				"dispositivo_id":   "d1",
				"finalidade":       "monitoramento",
				"opcao_tratamento": map[string]any{"chave_politica": "AVG::0:10S"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	pol, err := client.FetchPolicy(context.Background(), "d1", "s1")
	require.NoError(t, err)
	require.NotNil(t, pol)

	assert.Equal(t, "/consentimentos/titular/s1", requestedPath)
	assert.Equal(t, "AVG::0:10S", pol.Key())
	assert.Equal(t, "monitoramento", pol["finalidade"])
}

func TestFetchPolicyNoConsentForDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"dispositivo_id": "other"},
		})
	}))
	defer server.Close()

	pol, err := NewClient(server.URL).FetchPolicy(context.Background(), "d1", "s1")
	require.NoError(t, err)
	assert.Nil(t, pol)
}

func TestFetchPolicyUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	pol, err := NewClient(server.URL).FetchPolicy(context.Background(), "d1", "s1")
	assert.Error(t, err)
	assert.Nil(t, pol)
}

func TestFetchPolicyUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	pol, err := NewClient(server.URL).FetchPolicy(context.Background(), "d1", "s1")
	assert.Error(t, err)
	assert.Nil(t, pol)
}

func TestFetchPolicyBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	pol, err := NewClient(server.URL).FetchPolicy(context.Background(), "d1", "s1")
	assert.Error(t, err)
	assert.Nil(t, pol)
}
