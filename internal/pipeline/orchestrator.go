package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/transcript"
)

// Per-contact message templates. The caption wording follows the product's
// pt-BR voice.
const (
	greetingTemplate = "Oi %s! Preparamos um vídeo especial para você."
	captionTemplate  = "%s, seu vídeo personalizado."
)

// Job-level input errors.
var (
	// ErrNoContacts indicates a job without any contact to personalize for.
	ErrNoContacts = errors.New("job has no contacts")
	// ErrNoVideo indicates a job without a source video path.
	ErrNoVideo = errors.New("job has no source video")
)

// Deps are the collaborators the orchestrator sequences. Notifier may be nil
// when no webhook is configured.
type Deps struct {
	Transcriber core.Transcriber
	Voices      core.VoiceProvider
	Avatars     core.AvatarProvider
	Splicer     Splicer
	Media       core.MediaTool
	Messenger   core.Messenger
	Notifier    core.Notifier
	Cache       core.JobCache
	Persist     core.PersistHandleFunc
	Log         *logger.Logger
}

// Options are the orchestrator tunables, normally taken from config.
type Options struct {
	ContextBefore   int
	ContextAfter    int
	PadMs           int
	MinClipSeconds  float64
	OverlayWidth    int
	OverlayPosition string
	WorkDir         string
}

// Orchestrator drives one personalization job through its state machine:
// transcript, voice, avatar, then the per-contact render and send loop.
type Orchestrator struct {
	deps     Deps
	opts     Options
	renderer *Renderer
	log      *logger.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	renderer := NewRenderer(
		deps.Voices,
		deps.Avatars,
		deps.Splicer,
		opts.OverlayWidth,
		opts.OverlayPosition,
		deps.Log,
	)

	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		renderer: renderer,
		log:      deps.Log,
	}
}

// Prepare provisions everything a job needs before rendering: source audio,
// transcript, voice handle and, in avatar mode, the avatar group. The job is
// mutated in place and advances through the pipeline states.
func (o *Orchestrator) Prepare(ctx context.Context, job *core.Job) error {
	if job.VideoPath == "" {
		return ErrNoVideo
	}

	jobDir, dirErr := o.jobDir(job)
	if dirErr != nil {
		return dirErr
	}

	if job.TotalDuration <= 0 {
		duration, probeErr := o.deps.Media.ProbeDuration(ctx, job.VideoPath)
		if probeErr != nil {
			return fmt.Errorf("failed to probe source duration: %w", probeErr)
		}

		job.TotalDuration = duration
	}

	if job.AudioPath == "" {
		audioPath := filepath.Join(jobDir, "original_audio.wav")

		extractErr := o.deps.Media.ExtractAudio(ctx, job.VideoPath, audioPath)
		if extractErr != nil {
			return fmt.Errorf("failed to extract source audio: %w", extractErr)
		}

		job.AudioPath = audioPath
	}

	text, segments, transcribeErr := o.deps.Transcriber.Transcribe(ctx, job.AudioPath)
	if transcribeErr != nil {
		return fmt.Errorf("failed to transcribe source audio: %w", transcribeErr)
	}

	job.Transcript = text
	job.Segments = segments
	job.State = core.StateTranscriptReady

	voice, voiceErr := o.deps.Voices.EnsureVoice(ctx, job.OwnerKey, job.AudioPath, jobDir)
	if voiceErr != nil {
		return fmt.Errorf("failed to provision voice: %w", voiceErr)
	}

	job.Voice = voice
	job.State = core.StateVoiceReady

	if job.Mode == core.RenderModeAvatar {
		group, fresh, groupErr := o.deps.Avatars.EnsureGroup(
			ctx,
			job.OwnerKey,
			job.VideoPath,
			job.AvatarGroup,
			o.deps.Persist,
		)
		if groupErr != nil {
			return fmt.Errorf("failed to provision avatar group: %w", groupErr)
		}

		job.AvatarGroup = group
		job.AvatarPendingTraining = fresh
		job.State = core.StateAvatarReady
	}

	return nil
}

// Preview runs the full provisioning pipeline, renders the first contact and
// checkpoints the job state to the cache so a later Confirm can finish the
// remaining contacts. Any failure propagates; there is no partial preview.
// On failure the job work dir is removed here, since no checkpoint exists
// for a later Confirm to clean up. On success the dir survives until Confirm.
func (o *Orchestrator) Preview(ctx context.Context, job *core.Job) (core.RenderResult, error) {
	result, previewErr := o.preview(ctx, job)
	if previewErr != nil {
		o.cleanup(job)

		return result, previewErr
	}

	return result, nil
}

func (o *Orchestrator) preview(ctx context.Context, job *core.Job) (core.RenderResult, error) {
	job.Contacts = DeduplicateContacts(job.Contacts)
	if len(job.Contacts) == 0 {
		return core.RenderResult{}, ErrNoContacts
	}

	first := job.Contacts[0]

	validateErr := first.Validate()
	if validateErr != nil {
		return core.RenderResult{}, fmt.Errorf("preview contact invalid: %w", validateErr)
	}

	prepErr := o.Prepare(ctx, job)
	if prepErr != nil {
		return core.RenderResult{}, prepErr
	}

	interval, locateErr := o.locate(job)
	if locateErr != nil {
		return core.RenderResult{}, locateErr
	}

	jobDir, dirErr := o.jobDir(job)
	if dirErr != nil {
		return core.RenderResult{}, dirErr
	}

	result := o.renderer.RenderContact(ctx, job, interval, first, jobDir)
	if result.Outcome == core.OutcomeFailed {
		return result, fmt.Errorf("preview render failed: %w", result.Err)
	}

	checkpoint, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		return core.RenderResult{}, fmt.Errorf("failed to marshal job checkpoint: %w", marshalErr)
	}

	setErr := o.deps.Cache.Set(ctx, job.ID, checkpoint)
	if setErr != nil {
		return core.RenderResult{}, fmt.Errorf("failed to store job checkpoint: %w", setErr)
	}

	return result, nil
}

// Confirm restores a previewed job from the cache and delivers to every
// contact. The checkpoint is deleted unconditionally once the loop has run,
// whether or not individual contacts succeeded.
func (o *Orchestrator) Confirm(ctx context.Context, jobID string) ([]core.ContactOutcome, error) {
	checkpoint, getErr := o.deps.Cache.Get(ctx, jobID)
	if getErr != nil {
		return nil, fmt.Errorf("failed to restore job checkpoint: %w", getErr)
	}

	var job core.Job

	unmarshalErr := json.Unmarshal(checkpoint, &job)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to decode job checkpoint: %w", unmarshalErr)
	}

	defer func() {
		deleteErr := o.deps.Cache.Delete(context.WithoutCancel(ctx), jobID)
		if deleteErr != nil {
			o.log.Warn("Failed to delete job checkpoint '%s': %v", jobID, deleteErr)
		}
	}()
	defer o.cleanup(&job)

	o.awaitTraining(ctx, &job)

	return o.sendAll(ctx, &job)
}

// FullSend runs provisioning and the delivery loop in one shot, without the
// intermediate preview checkpoint.
func (o *Orchestrator) FullSend(ctx context.Context, job *core.Job) ([]core.ContactOutcome, error) {
	job.Contacts = DeduplicateContacts(job.Contacts)
	if len(job.Contacts) == 0 {
		return nil, ErrNoContacts
	}

	defer o.cleanup(job)

	prepErr := o.Prepare(ctx, job)
	if prepErr != nil {
		return nil, prepErr
	}

	o.awaitTraining(ctx, job)

	return o.sendAll(ctx, job)
}

// awaitTraining blocks until a freshly created avatar group finishes
// training. If the wait fails or times out the job is degraded to the audio
// splice mode rather than failing every contact against an untrained group.
func (o *Orchestrator) awaitTraining(ctx context.Context, job *core.Job) {
	if !job.AvatarPendingTraining || job.AvatarGroup == "" {
		return
	}

	waitErr := o.deps.Avatars.WaitTrained(ctx, job.AvatarGroup)
	if waitErr != nil {
		o.log.Warn(
			"Avatar group '%s' training did not complete, degrading job %s to audio mode: %v",
			job.AvatarGroup,
			job.ID,
			waitErr,
		)

		job.Mode = core.RenderModeAudio

		return
	}

	job.AvatarPendingTraining = false
}

// sendAll renders and delivers to every contact sequentially. Failures are
// isolated per contact: logged, recorded in the outcome, never aborting the
// loop.
func (o *Orchestrator) sendAll(ctx context.Context, job *core.Job) ([]core.ContactOutcome, error) {
	job.Contacts = DeduplicateContacts(job.Contacts)

	interval, locateErr := o.locate(job)
	if locateErr != nil {
		return nil, locateErr
	}

	jobDir, dirErr := o.jobDir(job)
	if dirErr != nil {
		return nil, dirErr
	}

	outcomes := make([]core.ContactOutcome, 0, len(job.Contacts))

	for _, contact := range job.Contacts {
		outcome := o.sendOne(ctx, job, interval, contact, jobDir)
		if outcome.Error != "" {
			o.log.Error("Contact '%s' (%s) failed: %s", contact.Name, contact.Phone, outcome.Error)
		}

		outcomes = append(outcomes, outcome)
	}

	job.State = core.StateCompleted

	return outcomes, nil
}

func (o *Orchestrator) sendOne(
	ctx context.Context,
	job *core.Job,
	interval core.SpliceInterval,
	contact core.Contact,
	jobDir string,
) core.ContactOutcome {
	validateErr := contact.Validate()
	if validateErr != nil {
		return core.ContactOutcome{Contact: contact, Outcome: core.OutcomeFailed, Error: validateErr.Error()}
	}

	result := o.renderer.RenderContact(ctx, job, interval, contact, jobDir)
	if result.Outcome == core.OutcomeFailed {
		return core.ContactOutcome{Contact: contact, Outcome: core.OutcomeFailed, Error: result.Err.Error()}
	}

	greeting := fmt.Sprintf(greetingTemplate, contact.Name)

	textErr := o.deps.Messenger.SendText(ctx, contact.Phone, greeting)
	if textErr != nil {
		// The video is the deliverable; a failed greeting is not fatal.
		o.log.Warn("Greeting for '%s' failed: %v", contact.Name, textErr)
	}

	caption := fmt.Sprintf(captionTemplate, contact.Name)

	mediaErr := o.deps.Messenger.SendMedia(ctx, contact.Phone, result.Path, caption)
	if mediaErr != nil {
		return core.ContactOutcome{Contact: contact, Outcome: core.OutcomeFailed, Error: mediaErr.Error()}
	}

	if o.deps.Notifier != nil {
		o.deps.Notifier.NotifyRendered(ctx, job.OwnerKey, contact.Name, result.Path)
	}

	return core.ContactOutcome{Contact: contact, Outcome: result.Outcome, Error: ""}
}

// locate computes the splice interval for the job's keyword. The minimum
// duration policy applies only to the avatar overlay path.
func (o *Orchestrator) locate(job *core.Job) (core.SpliceInterval, error) {
	minDuration := 0.0
	if job.Mode == core.RenderModeAvatar {
		minDuration = o.opts.MinClipSeconds
	}

	interval, err := transcript.Locate(job.Segments, job.Keyword, transcript.LocateOptions{
		ContextBefore: o.opts.ContextBefore,
		ContextAfter:  o.opts.ContextAfter,
		PadMs:         o.opts.PadMs,
		MinDuration:   minDuration,
		TotalDuration: job.TotalDuration,
	})
	if err != nil {
		return core.SpliceInterval{}, fmt.Errorf("failed to locate keyword '%s': %w", job.Keyword, err)
	}

	if interval.DurationUnknown {
		o.log.Warn("Total duration unknown for job %s, minimum clip length not enforced", job.ID)
	}

	return interval, nil
}

// cleanup removes the job's scratch directory once the send phase is over.
func (o *Orchestrator) cleanup(job *core.Job) {
	if job.ID == "" {
		return
	}

	dir := filepath.Join(o.opts.WorkDir, job.ID)

	removeErr := os.RemoveAll(dir)
	if removeErr != nil {
		o.log.Warn("Failed to remove job work dir '%s': %v", dir, removeErr)
	}
}

func (o *Orchestrator) jobDir(job *core.Job) (string, error) {
	dir := filepath.Join(o.opts.WorkDir, job.ID)

	mkdirErr := os.MkdirAll(dir, 0o750)
	if mkdirErr != nil {
		return "", fmt.Errorf("failed to create job work dir: %w", mkdirErr)
	}

	return dir, nil
}
