// Package worker provides a NATS worker that processes personalization jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/clipgreet/personalizer/internal/core"
)

// handleMessageTimeout bounds one job end to end, including avatar training
// waits and per-contact delivery.
const handleMessageTimeout = 45 * time.Minute

// Job phases accepted on the job subject.
const (
	PhasePreview  = "preview"
	PhaseConfirm  = "confirm"
	PhaseFullSend = "full_send"
)

var (
	// ErrUnknownPhase indicates an event with a phase this worker does not run.
	ErrUnknownPhase = errors.New("unknown job phase")
	// ErrMissingJobID indicates a confirm event without the checkpoint id.
	ErrMissingJobID = errors.New("confirm event is missing job_id")
	// ErrMissingKeyword indicates a job event without a keyword to locate.
	ErrMissingKeyword = errors.New("job event is missing keyword")
	// ErrMissingVideo indicates a job event without a source video path.
	ErrMissingVideo = errors.New("job event is missing video path")
	// ErrMissingContacts indicates a job event without contacts.
	ErrMissingContacts = errors.New("job event has no contacts")
)

// JobEvent is the payload published to the job subject.
type JobEvent struct {
	JobID     string          `json:"job_id,omitempty"`
	Phase     string          `json:"phase"`
	OwnerKey  string          `json:"owner_key,omitempty"`
	Keyword   string          `json:"keyword,omitempty"`
	Mode      core.RenderMode `json:"mode,omitempty"`
	VideoPath string          `json:"video_path,omitempty"`
	Contacts  []core.Contact  `json:"contacts,omitempty"`
}

// PreviewReadyEvent is the reply published for a preview request. A failed
// preview carries the failure message in Error and a failed outcome, so the
// requester never has to wait out its timeout to learn the job died.
type PreviewReadyEvent struct {
	JobID   string             `json:"job_id"`
	Outcome core.RenderOutcome `json:"outcome"`
	Path    string             `json:"path,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// OutcomeEvent is published to the outcome subject once per contact of a
// confirm or full-send run.
type OutcomeEvent struct {
	JobID   string             `json:"job_id"`
	Phase   string             `json:"phase"`
	Contact core.Contact       `json:"contact"`
	Outcome core.RenderOutcome `json:"outcome"`
	Error   string             `json:"error,omitempty"`
}

// Pipeline is the orchestrator surface the worker drives.
type Pipeline interface {
	Preview(ctx context.Context, job *core.Job) (core.RenderResult, error)
	Confirm(ctx context.Context, jobID string) ([]core.ContactOutcome, error)
	FullSend(ctx context.Context, job *core.Job) ([]core.ContactOutcome, error)
}

// NatsWorker listens for personalization jobs on a NATS subject and runs them
// through the pipeline.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	outcomeSubject string
	pipeline       Pipeline
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	outcomeSubject string,
	pipeline Pipeline,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		outcomeSubject: outcomeSubject,
		pipeline:       pipeline,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate job event: %v", err)

		return
	}

	switch event.Phase {
	case PhasePreview:
		w.runPreview(ctx, msg, event)
	case PhaseConfirm:
		w.publishOutcomes(event, w.runConfirm(ctx, event))
	case PhaseFullSend:
		w.publishOutcomes(event, w.runFullSend(ctx, event))
	}
}

func (w *NatsWorker) runPreview(ctx context.Context, msg *nats.Msg, event *JobEvent) {
	job := jobFromEvent(event)

	result, previewErr := w.pipeline.Preview(ctx, job)
	if previewErr != nil {
		w.log.Error("Preview for job %s failed: %v", job.ID, previewErr)

		failure := PreviewReadyEvent{
			JobID:   job.ID,
			Outcome: core.OutcomeFailed,
			Error:   previewErr.Error(),
		}

		replyErr := w.respond(msg, failure)
		if replyErr != nil {
			w.log.Error("Failed to publish preview failure for job %s: %v", job.ID, replyErr)
		}

		return
	}

	reply := PreviewReadyEvent{JobID: job.ID, Outcome: result.Outcome, Path: result.Path}

	replyErr := w.respond(msg, reply)
	if replyErr != nil {
		w.log.Error("Failed to publish preview reply for job %s: %v", job.ID, replyErr)
	}
}

func (w *NatsWorker) runConfirm(ctx context.Context, event *JobEvent) []core.ContactOutcome {
	outcomes, confirmErr := w.pipeline.Confirm(ctx, event.JobID)
	if confirmErr != nil {
		w.log.Error("Confirm for job %s failed: %v", event.JobID, confirmErr)

		return nil
	}

	return outcomes
}

func (w *NatsWorker) runFullSend(ctx context.Context, event *JobEvent) []core.ContactOutcome {
	job := jobFromEvent(event)

	outcomes, sendErr := w.pipeline.FullSend(ctx, job)
	if sendErr != nil {
		w.log.Error("Full send for job %s failed: %v", job.ID, sendErr)

		return nil
	}

	return outcomes
}

// publishOutcomes emits one event per contact to the outcome subject.
func (w *NatsWorker) publishOutcomes(event *JobEvent, outcomes []core.ContactOutcome) {
	for _, outcome := range outcomes {
		payload := OutcomeEvent{
			JobID:   event.JobID,
			Phase:   event.Phase,
			Contact: outcome.Contact,
			Outcome: outcome.Outcome,
			Error:   outcome.Error,
		}

		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			w.log.Error("Failed to marshal outcome event: %v", marshalErr)

			continue
		}

		publishErr := w.natsConnection.Publish(w.outcomeSubject, data)
		if publishErr != nil {
			w.log.Error("Failed to publish outcome for '%s': %v", outcome.Contact.Name, publishErr)
		}
	}
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(data)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func jobFromEvent(event *JobEvent) *core.Job {
	jobID := event.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	mode := event.Mode
	if mode == "" {
		mode = core.RenderModeAudio
	}

	return &core.Job{
		ID:        jobID,
		OwnerKey:  event.OwnerKey,
		Keyword:   event.Keyword,
		Contacts:  event.Contacts,
		Mode:      mode,
		State:     core.StateReceived,
		VideoPath: event.VideoPath,
	}
}

func parseAndValidateEvent(msg *nats.Msg) (*JobEvent, error) {
	var event JobEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job event: %w", err)
	}

	validationErr := validateEvent(&event)
	if validationErr != nil {
		return nil, validationErr
	}

	return &event, nil
}

func validateEvent(event *JobEvent) error {
	switch event.Phase {
	case PhaseConfirm:
		if event.JobID == "" {
			return ErrMissingJobID
		}

		return nil
	case PhasePreview, PhaseFullSend:
		if event.Keyword == "" {
			return ErrMissingKeyword
		}

		if event.VideoPath == "" {
			return ErrMissingVideo
		}

		if len(event.Contacts) == 0 {
			return ErrMissingContacts
		}

		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownPhase, event.Phase)
	}
}
