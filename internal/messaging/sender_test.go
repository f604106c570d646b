package messaging_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/gateway"
	"github.com/clipgreet/personalizer/internal/messaging"
)

const testInstance = "main"

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "messaging-test.log")
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newTestSender(t *testing.T, server *httptest.Server, retries int, sizeLimit int64) *messaging.Sender {
	t.Helper()

	log := testLogger(t)
	auth := &gateway.StaticKey{Header: "apikey", Key: "test-key"}
	client := gateway.NewClient(server.URL, auth, 5*time.Second, log)

	return messaging.NewSender(client, testInstance, retries, time.Millisecond, sizeLimit, log)
}

func decodeJSON(t *testing.T, r *http.Request, target any) {
	t.Helper()

	require.NoError(t, json.NewDecoder(r.Body).Decode(target))
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(payload)
}

type recordedSend struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func TestSendText_UsesInternationalCandidateFirst(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		numbers []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/message/sendText/"+testInstance, func(w http.ResponseWriter, r *http.Request) {
		var body recordedSend

		decodeJSON(t, r, &body)

		mu.Lock()
		numbers = append(numbers, body.Number)
		mu.Unlock()

		assert.Equal(t, "oi, tudo bem?", body.Text)

		writeJSON(w, map[string]any{"key": map[string]string{"id": "msg-1"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server, 1, 1<<20)

	err := sender.SendText(context.Background(), "+55 (11) 99999-0000", "oi, tudo bem?")
	require.NoError(t, err)

	require.Len(t, numbers, 1)
	assert.Equal(t, "+5511999990000", numbers[0])
}

func TestSendText_FallsBackToBareDigits(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		numbers []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/message/sendText/"+testInstance, func(w http.ResponseWriter, r *http.Request) {
		var body recordedSend

		decodeJSON(t, r, &body)

		mu.Lock()
		numbers = append(numbers, body.Number)
		mu.Unlock()

		if body.Number == "+5511988887777" {
			http.Error(w, "number not registered", http.StatusInternalServerError)

			return
		}

		writeJSON(w, map[string]any{"key": map[string]string{"id": "msg-2"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server, 1, 1<<20)

	err := sender.SendText(context.Background(), "5511988887777", "bom dia")
	require.NoError(t, err)

	// Two failed attempts on the plus-prefixed candidate, one success bare.
	require.Len(t, numbers, 3)
	assert.Equal(t, "+5511988887777", numbers[0])
	assert.Equal(t, "+5511988887777", numbers[1])
	assert.Equal(t, "5511988887777", numbers[2])
}

func TestSendText_ExhaustedReturnsError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/message/sendText/"+testInstance, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "instance disconnected", http.StatusInternalServerError)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server, 0, 1<<20)

	err := sender.SendText(context.Background(), "5511999990000", "oi")
	require.ErrorIs(t, err, messaging.ErrSendExhausted)
}

func TestSendText_RejectsNumberWithoutDigits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NewServeMux())
	defer server.Close()

	sender := newTestSender(t, server, 0, 1<<20)

	err := sender.SendText(context.Background(), "sem numero", "oi")
	require.ErrorIs(t, err, messaging.ErrNoPhoneDigits)
}

type recordedMedia struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype"`
	Caption   string `json:"caption"`
	Media     string `json:"media"`
	FileName  string `json:"fileName"`
}

func TestSendMedia_SmallFileGoesAsVideo(t *testing.T) {
	t.Parallel()

	content := []byte("fake mp4 payload")
	mediaPath := filepath.Join(t.TempDir(), "greeting.mp4")
	require.NoError(t, os.WriteFile(mediaPath, content, 0o600))

	var got recordedMedia

	mux := http.NewServeMux()
	mux.HandleFunc("/message/sendMedia/"+testInstance, func(w http.ResponseWriter, r *http.Request) {
		decodeJSON(t, r, &got)

		writeJSON(w, map[string]any{"key": map[string]string{"id": "msg-3"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server, 0, 1<<20)

	err := sender.SendMedia(context.Background(), "5511999990000", mediaPath, "pra você, Ana")
	require.NoError(t, err)

	assert.Equal(t, "video", got.MediaType)
	assert.Equal(t, "video/mp4", got.MimeType)
	assert.Equal(t, "greeting.mp4", got.FileName)
	assert.Equal(t, "pra você, Ana", got.Caption)

	decoded, decodeErr := base64.StdEncoding.DecodeString(got.Media)
	require.NoError(t, decodeErr)
	assert.Equal(t, content, decoded)
}

func TestSendMedia_OversizeFileDowngradedToDocument(t *testing.T) {
	t.Parallel()

	mediaPath := filepath.Join(t.TempDir(), "greeting.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("definitely more than ten bytes"), 0o600))

	var got recordedMedia

	mux := http.NewServeMux()
	mux.HandleFunc("/message/sendMedia/"+testInstance, func(w http.ResponseWriter, r *http.Request) {
		decodeJSON(t, r, &got)

		writeJSON(w, map[string]any{"key": map[string]string{"id": "msg-4"}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server, 0, 10)

	err := sender.SendMedia(context.Background(), "5511999990000", mediaPath, "")
	require.NoError(t, err)

	assert.Equal(t, "document", got.MediaType)
}

func TestWebhookNotifier_PostsFileAndFields(t *testing.T) {
	t.Parallel()

	mediaPath := filepath.Join(t.TempDir(), "result.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("rendered bytes"), 0o600))

	var (
		gotOwner   string
		gotContact string
		gotFile    []byte
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotOwner = r.FormValue("owner")
		gotContact = r.FormValue("contact")

		file, _, openErr := r.FormFile("file")
		require.NoError(t, openErr)

		defer func() {
			_ = file.Close()
		}()

		data := make([]byte, 64)
		n, _ := file.Read(data)
		gotFile = data[:n]

		writeJSON(w, map[string]string{"status": "ok"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	log := testLogger(t)
	client := gateway.NewClient(server.URL, &gateway.StaticKey{}, 5*time.Second, log)
	notifier := messaging.NewWebhookNotifier(client, log)

	notifier.NotifyRendered(context.Background(), "user_42", "Ana", mediaPath)

	assert.Equal(t, "user_42", gotOwner)
	assert.Equal(t, "Ana", gotContact)
	assert.Equal(t, []byte("rendered bytes"), gotFile)
}

func TestWebhookNotifier_SwallowsDeliveryFailure(t *testing.T) {
	t.Parallel()

	mediaPath := filepath.Join(t.TempDir(), "result.mp4")
	require.NoError(t, os.WriteFile(mediaPath, []byte("rendered bytes"), 0o600))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "webhook down", http.StatusBadGateway)
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	log := testLogger(t)
	client := gateway.NewClient(server.URL, &gateway.StaticKey{}, 5*time.Second, log)
	notifier := messaging.NewWebhookNotifier(client, log)

	// Must not panic or surface the failure.
	notifier.NotifyRendered(context.Background(), "user_42", "Ana", mediaPath)
}
