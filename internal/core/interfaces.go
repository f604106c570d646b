package core

import "context"

// JobCache is the preview/confirm checkpoint store. Values are opaque JSON
// blobs that expire after the bucket TTL.
type JobCache interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MediaTool is the subprocess collaborator used for every cut, transcode and
// concat step. Each call either succeeds or fails as a unit; partial output
// is never reused.
type MediaTool interface {
	CutCopy(ctx context.Context, input string, start, end float64, output string) error
	CutEncode(ctx context.Context, input string, start, end float64, output string) error
	ExtractAudio(ctx context.Context, input, output string) error
	ExtractFrame(ctx context.Context, input string, at float64, output string) error
	ScaleLoopTrim(ctx context.Context, input string, width int, duration float64, output string) error
	Overlay(ctx context.Context, base, overlay, position, output string) error
	ConcatEncode(ctx context.Context, inputs []string, output string) error
	ConcatAudio(ctx context.Context, inputs []string, output string) error
	ReplaceAudio(ctx context.Context, video, audio, output string) error
	ProbeDuration(ctx context.Context, input string) (float64, error)
	ProbeDimensions(ctx context.Context, input string) (width, height int, err error)
}

// Transcriber produces a time-aligned transcript from raw audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, []TranscriptSegment, error)
}

// VoiceProvider manages cloned voices and speech synthesis.
type VoiceProvider interface {
	EnsureVoice(ctx context.Context, ownerKey, samplePath, workDir string) (VoiceHandle, error)
	Synthesize(ctx context.Context, voice VoiceHandle, text string) ([]byte, error)
}

// PersistHandleFunc persists a freshly created avatar group handle back to
// durable storage outside this core. Failures are logged, not fatal.
type PersistHandleFunc func(ctx context.Context, ownerKey string, handle AvatarGroupHandle) error

// AvatarProvider manages avatar groups and avatar-driven video rendering.
type AvatarProvider interface {
	EnsureGroup(ctx context.Context, ownerKey, sourcePath string, existing AvatarGroupHandle, persist PersistHandleFunc) (AvatarGroupHandle, bool, error)
	WaitTrained(ctx context.Context, group AvatarGroupHandle) error
	RenderClip(ctx context.Context, group AvatarGroupHandle, voice VoiceHandle, script, outputPath string) error
}

// Messenger delivers text and media to a phone number over the configured
// messaging instance.
type Messenger interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone, mediaPath, caption string) error
}

// Notifier posts best-effort side-channel notifications about finished
// renders. Implementations must swallow their own delivery failures.
type Notifier interface {
	NotifyRendered(ctx context.Context, ownerKey, contactName, mediaPath string)
}
