// Command personalize enqueues personalization jobs on the service's NATS
// job subject and, for previews, waits for the rendered artifact reply.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/clipgreet/personalizer/internal/core"
	"github.com/clipgreet/personalizer/internal/worker"
)

// Flag descriptions.
const (
	flagNatsDesc     = "NATS server URL"
	flagSubjectDesc  = "Job subject to publish on"
	flagPhaseDesc    = "Job phase: preview, confirm or full_send"
	flagJobDesc      = "Job id (required for confirm)"
	flagOwnerDesc    = "Owner key naming the user's voice and avatar resources"
	flagKeywordDesc  = "Keyword to personalize around"
	flagVideoDesc    = "Path to the source video"
	flagContactsDesc = "JSON file with the contact list"
	flagModeDesc     = "Render mode: audio or avatar"
	flagTimeoutDesc  = "Reply timeout for preview requests"
)

var errContactsRequired = errors.New("--contacts is required for preview and full_send")

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "personalize: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	natsURL := flag.String("nats", nats.DefaultURL, flagNatsDesc)
	subject := flag.String("subject", "personalizer.jobs", flagSubjectDesc)
	phase := flag.String("phase", worker.PhasePreview, flagPhaseDesc)
	jobID := flag.String("job", "", flagJobDesc)
	owner := flag.String("owner", "", flagOwnerDesc)
	keyword := flag.String("keyword", "", flagKeywordDesc)
	video := flag.String("video", "", flagVideoDesc)
	contactsPath := flag.String("contacts", "", flagContactsDesc)
	mode := flag.String("mode", string(core.RenderModeAudio), flagModeDesc)
	timeout := flag.Duration("timeout", 10*time.Minute, flagTimeoutDesc)
	flag.Parse()

	event := worker.JobEvent{
		JobID:     *jobID,
		Phase:     *phase,
		OwnerKey:  *owner,
		Keyword:   *keyword,
		Mode:      core.RenderMode(*mode),
		VideoPath: *video,
		Contacts:  nil,
	}

	if *phase != worker.PhaseConfirm {
		contacts, loadErr := loadContacts(*contactsPath)
		if loadErr != nil {
			return loadErr
		}

		event.Contacts = contacts
	}

	payload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal job event: %w", marshalErr)
	}

	conn, connectErr := nats.Connect(*natsURL)
	if connectErr != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", *natsURL, connectErr)
	}

	defer conn.Close()

	if *phase == worker.PhasePreview {
		return requestPreview(conn, *subject, payload, *timeout)
	}

	publishErr := conn.Publish(*subject, payload)
	if publishErr != nil {
		return fmt.Errorf("failed to publish job event: %w", publishErr)
	}

	flushErr := conn.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush job event: %w", flushErr)
	}

	fmt.Printf("Enqueued %s job\n", *phase)

	return nil
}

func requestPreview(conn *nats.Conn, subject string, payload []byte, timeout time.Duration) error {
	reply, requestErr := conn.Request(subject, payload, timeout)
	if requestErr != nil {
		return fmt.Errorf("preview request failed: %w", requestErr)
	}

	var ready worker.PreviewReadyEvent

	unmarshalErr := json.Unmarshal(reply.Data, &ready)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to decode preview reply: %w", unmarshalErr)
	}

	if ready.Error != "" {
		return fmt.Errorf("preview for job %s failed: %s", ready.JobID, ready.Error)
	}

	fmt.Printf("Preview ready: job=%s outcome=%s path=%s\n", ready.JobID, ready.Outcome, ready.Path)

	return nil
}

func loadContacts(path string) ([]core.Contact, error) {
	if path == "" {
		return nil, errContactsRequired
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read contacts file: %w", readErr)
	}

	var contacts []core.Contact

	unmarshalErr := json.Unmarshal(data, &contacts)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse contacts file: %w", unmarshalErr)
	}

	return contacts, nil
}
