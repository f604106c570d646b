// Package messaging delivers text and media messages to contacts through an
// instance-scoped messaging HTTP API.
package messaging

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/clipgreet/personalizer/internal/gateway"
)

const (
	pathSendText  = "message/sendText/"
	pathSendMedia = "message/sendMedia/"

	mediaTypeVideo    = "video"
	mediaTypeDocument = "document"
	videoMimeType     = "video/mp4"
)

// ErrNoPhoneDigits indicates the phone number contained no digits at all.
var ErrNoPhoneDigits = errors.New("phone number contains no digits")

// ErrSendExhausted indicates every candidate number and retry failed.
var ErrSendExhausted = errors.New("message delivery exhausted all attempts")

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type textPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type mediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype"`
	Caption   string `json:"caption"`
	Media     string `json:"media"`
	FileName  string `json:"fileName"`
}

// Sender delivers messages through a single named messaging instance.
type Sender struct {
	gw        *gateway.Client
	log       *logger.Logger
	instance  string
	retries   int
	backoff   time.Duration
	sizeLimit int64
}

// NewSender creates a sender bound to one messaging instance. Media files
// larger than sizeLimit bytes are delivered as documents instead of inline
// video.
func NewSender(
	gatewayClient *gateway.Client,
	instance string,
	retries int,
	backoff time.Duration,
	sizeLimit int64,
	log *logger.Logger,
) *Sender {
	return &Sender{
		gw:        gatewayClient,
		log:       log,
		instance:  instance,
		retries:   retries,
		backoff:   backoff,
		sizeLimit: sizeLimit,
	}
}

// phoneCandidates reduces a raw phone number to its digits and returns the
// delivery candidates in preference order: the plus-prefixed international
// form first, then the bare digits.
func phoneCandidates(raw string) ([]string, error) {
	var digits strings.Builder

	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	if digits.Len() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoPhoneDigits, raw)
	}

	bare := digits.String()

	return []string{"+" + bare, bare}, nil
}

// SendText delivers a text message, trying each phone candidate with a fixed
// number of retries per candidate.
func (s *Sender) SendText(ctx context.Context, phone, text string) error {
	candidates, candErr := phoneCandidates(phone)
	if candErr != nil {
		return candErr
	}

	return s.deliver(ctx, candidates, func(number string) error {
		payload := textPayload{Number: number, Text: text}

		var resp sendResponse

		return s.gw.Request(ctx, "POST", pathSendText+s.instance, payload, &resp)
	})
}

// SendMedia delivers a media file with a caption. Files within the size limit
// go out as inline video; oversized files are downgraded to document delivery
// so the service does not reject them.
func (s *Sender) SendMedia(ctx context.Context, phone, mediaPath, caption string) error {
	candidates, candErr := phoneCandidates(phone)
	if candErr != nil {
		return candErr
	}

	data, readErr := os.ReadFile(mediaPath)
	if readErr != nil {
		return fmt.Errorf("failed to read media file: %w", readErr)
	}

	mediaType := mediaTypeVideo
	if int64(len(data)) > s.sizeLimit {
		s.log.Warn(
			"Media %s exceeds %d bytes, sending as document",
			filepath.Base(mediaPath),
			s.sizeLimit,
		)

		mediaType = mediaTypeDocument
	}

	payload := mediaPayload{
		Number:    "",
		MediaType: mediaType,
		MimeType:  videoMimeType,
		Caption:   caption,
		Media:     base64.StdEncoding.EncodeToString(data),
		FileName:  filepath.Base(mediaPath),
	}

	return s.deliver(ctx, candidates, func(number string) error {
		payload.Number = number

		var resp sendResponse

		return s.gw.Request(ctx, "POST", pathSendMedia+s.instance, payload, &resp)
	})
}

// deliver runs the send function against each candidate number, retrying each
// one up to the configured retry count with a fixed backoff between attempts.
func (s *Sender) deliver(
	ctx context.Context,
	candidates []string,
	send func(number string) error,
) error {
	var lastErr error

	for _, number := range candidates {
		for attempt := 0; attempt <= s.retries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return fmt.Errorf("delivery interrupted: %w", ctx.Err())
				case <-time.After(s.backoff):
				}
			}

			sendErr := send(number)
			if sendErr == nil {
				return nil
			}

			lastErr = sendErr

			s.log.Warn(
				"Send to %s failed (attempt %d/%d): %v",
				number,
				attempt+1,
				s.retries+1,
				sendErr,
			)
		}
	}

	return fmt.Errorf("%w: %w", ErrSendExhausted, lastErr)
}
