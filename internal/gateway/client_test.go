package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/gateway"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "gateway-test.log")
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func staticAuth() *gateway.StaticKey {
	return &gateway.StaticKey{Header: "apikey", Key: "test-key"}
}

func TestRequest_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-key", r.Header.Get("apikey"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok": true}`))
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	var result struct {
		OK bool `json:"ok"`
	}

	err := client.Request(context.Background(), http.MethodGet, "voices", nil, &result)
	require.NoError(t, err)

	assert.True(t, result.OK)
}

func TestRequest_UnauthorizedOnceThenSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			_, _ = w.Write([]byte(`{"ok": true}`))
		}))
	defer server.Close()

	var refreshes atomic.Int32

	session := gateway.NewSession(func(_ context.Context) (string, time.Duration, error) {
		refreshes.Add(1)

		return "fresh-token", time.Hour, nil
	})

	client := gateway.NewClient(server.URL, session, 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodGet, "voices", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), refreshes.Load())
}

func TestRequest_TwoUnauthorizedFailsAuthentication(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
	defer server.Close()

	session := gateway.NewSession(func(_ context.Context) (string, time.Duration, error) {
		return "token", time.Hour, nil
	})

	client := gateway.NewClient(server.URL, session, 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodGet, "voices", nil, nil)

	require.ErrorIs(t, err, gateway.ErrAuthenticationFailed)
}

func TestRequest_NotFoundFallsBackToVersionedPath(t *testing.T) {
	t.Parallel()

	var sawVersioned atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/instance/create" {
				sawVersioned.Store(true)
				_, _ = w.Write([]byte(`{"created": true}`))

				return
			}

			w.WriteHeader(http.StatusNotFound)
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodPost, "instance/create",
		map[string]string{"instanceName": "default"}, nil)
	require.NoError(t, err)

	assert.True(t, sawVersioned.Load())
}

func TestRequest_NotFoundOnBothShapesPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodGet, "v1/missing", nil, nil)

	assert.True(t, gateway.IsNotFound(err))
}

func TestRequest_StatusErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream broken"))
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodGet, "v1/render", nil, nil)

	var remoteErr *gateway.RemoteError

	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusBadGateway, remoteErr.StatusCode)
	assert.Equal(t, "upstream broken", remoteErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequest_TransportFailureRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				// Hijack and drop the connection to simulate a
				// transport failure.
				conn, _, hijackErr := w.(http.Hijacker).Hijack()
				require.NoError(t, hijackErr)
				_ = conn.Close()

				return
			}

			_, _ = w.Write([]byte(`{"ok": true}`))
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	err := client.Request(context.Background(), http.MethodGet, "v1/voices", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestUpload_SendsMultipartForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			parseErr := r.ParseMultipartForm(1 << 20)
			require.NoError(t, parseErr)

			assert.Equal(t, "voice-name", r.FormValue("name"))

			file, header, fileErr := r.FormFile("file")
			require.NoError(t, fileErr)

			defer func() {
				_ = file.Close()
			}()

			assert.Equal(t, "sample.wav", header.Filename)
			_, _ = w.Write([]byte(`{"voiceId": "v-1"}`))
		}))
	defer server.Close()

	client := gateway.NewClient(server.URL, staticAuth(), 5*time.Second, testLogger(t))

	var result struct {
		VoiceID string `json:"voiceId"`
	}

	err := client.Upload(context.Background(), "v1/add-voice", "file", "sample.wav",
		[]byte("audio-bytes"), map[string]string{"name": "voice-name"}, &result)
	require.NoError(t, err)

	assert.Equal(t, "v-1", result.VoiceID)
}
