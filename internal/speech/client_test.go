package speech_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/gateway"
	"github.com/clipgreet/personalizer/internal/speech"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "speech-test.log")
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}

	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newTestClient(t *testing.T, handler http.Handler) *speech.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := testLogger(t)
	gw := gateway.NewClient(server.URL,
		&gateway.StaticKey{Header: "apikey", Key: "k"}, 5*time.Second, log)

	return speech.NewClient(gw, log)
}

func writeSample(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "original.wav")

	require.NoError(t, os.WriteFile(path, []byte("wav-bytes"), 0o600))

	return path, dir
}

func TestTranscribe_ReturnsTextAndSegments(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/speech-to-text", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("detailed"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "boa tarde pedro",
			"words": []map[string]any{
				{"type": "word", "text": "boa", "start": 0.0, "end": 0.3},
				{"type": "word", "text": "tarde", "start": 0.3, "end": 0.6},
				{"type": "word", "text": "pedro", "start": 0.6, "end": 1.0},
			},
		})
	})

	client := newTestClient(t, mux)
	audioPath, _ := writeSample(t)

	text, segments, err := client.Transcribe(context.Background(), audioPath)
	require.NoError(t, err)

	assert.Equal(t, "boa tarde pedro", text)
	assert.Len(t, segments, 3)
}

func TestTranscribe_EmptyTextFails(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/speech-to-text", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text": "", "words": [{"text":"x","start":0,"end":0.1}]}`))
	})

	client := newTestClient(t, mux)
	audioPath, _ := writeSample(t)

	_, _, err := client.Transcribe(context.Background(), audioPath)

	require.ErrorIs(t, err, speech.ErrEmptyTranscription)
}

func TestEnsureVoice_ReusesExistingByName(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/voices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name": "user_other", "voiceId": "v-other"},
			{"name": "user_42", "voiceId": "v-42"}
		]`))
	})

	client := newTestClient(t, mux)
	samplePath, workDir := writeSample(t)

	handle, err := client.EnsureVoice(context.Background(), "user_42", samplePath, workDir)
	require.NoError(t, err)

	assert.Equal(t, core.VoiceHandle("v-42"), handle)
}

func TestEnsureVoice_CreatesOnMiss(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/voices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/convert-audio", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("converted-bytes"))
	})
	mux.HandleFunc("/add-voice", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user_42", r.FormValue("name"))
		assert.Equal(t, "pt-BR", r.FormValue("language"))

		file, _, openErr := r.FormFile("file")
		require.NoError(t, openErr)

		defer func() {
			_ = file.Close()
		}()

		uploaded, uploadReadErr := io.ReadAll(file)
		require.NoError(t, uploadReadErr)
		assert.Equal(t, "converted-bytes", string(uploaded))

		_, _ = w.Write([]byte(`{"voice": {"voiceId": "v-new"}}`))
	})

	client := newTestClient(t, mux)
	samplePath, _ := writeSample(t)
	workDir := t.TempDir()

	handle, err := client.EnsureVoice(context.Background(), "user_42", samplePath, workDir)
	require.NoError(t, err)

	assert.Equal(t, core.VoiceHandle("v-new"), handle)

	// Registration uploads the conversion response directly; nothing lands
	// in the job work dir.
	entries, readDirErr := os.ReadDir(workDir)
	require.NoError(t, readDirErr)
	assert.Empty(t, entries)
}

func TestEnsureVoice_RegistrationWithoutIDFailsLoudly(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/voices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/convert-audio", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("converted"))
	})
	mux.HandleFunc("/add-voice", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	})

	client := newTestClient(t, mux)
	samplePath, workDir := writeSample(t)

	_, err := client.EnsureVoice(context.Background(), "user_42", samplePath, workDir)

	require.ErrorIs(t, err, speech.ErrVoiceIDMissing)
}

func TestSynthesize_ReturnsAudio(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/text-to-speech", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VoiceID string `json:"voiceId"`
			Text    string `json:"text"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v-42", req.VoiceID)
		assert.Equal(t, "boa tarde . Ana.", req.Text)
		_, _ = w.Write([]byte("mp3-bytes"))
	})

	client := newTestClient(t, mux)

	audio, err := client.Synthesize(context.Background(), "v-42", "boa tarde . Ana.")
	require.NoError(t, err)

	assert.Equal(t, "mp3-bytes", string(audio))
}

func TestSynthesize_EmptyVoiceHandle(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NewServeMux())

	_, err := client.Synthesize(context.Background(), "", "text")

	require.ErrorIs(t, err, core.ErrEmptyVoiceHandle)
}
