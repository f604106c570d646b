package avatar_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/avatar"
	"github.com/clipgreet/personalizer/internal/gateway"
)

func TestTokenRefresher_ExchangesAPIKey(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string

		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret-key", body["api_key"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "bearer-1", "expires_in": 300})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	refresh := avatar.TokenRefresher(server.URL, "secret-key", 5*time.Second)

	token, lifetime, err := refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-1", token)
	assert.Equal(t, 5*time.Minute, lifetime)
}

func TestTokenRefresher_DefaultsLifetimeWhenOmitted(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"bearer-2"}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	refresh := avatar.TokenRefresher(server.URL, "secret-key", 5*time.Second)

	_, lifetime, err := refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, lifetime)
}

func TestTokenRefresher_EmptyTokenFails(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	refresh := avatar.TokenRefresher(server.URL, "secret-key", 5*time.Second)

	_, _, err := refresh(context.Background())
	require.ErrorIs(t, err, avatar.ErrEmptyToken)
}

func TestTokenRefresher_RemoteErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "key revoked", http.StatusForbidden)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	refresh := avatar.TokenRefresher(server.URL, "secret-key", 5*time.Second)

	_, _, err := refresh(context.Background())

	var remoteErr *gateway.RemoteError

	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusForbidden, remoteErr.StatusCode)
}
