package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// Transport retry policy: connection and read failures are retried with a
// linearly increasing delay. HTTP status errors are never retried here.
const (
	maxTransportAttempts = 3
	transportBackoffUnit = time.Second
)

const versionedPrefix = "v1/"

// Client wraps one remote service family behind authenticated verb functions.
type Client struct {
	httpClient *http.Client
	baseURL    string
	auth       Authorizer
	log        *logger.Logger
}

// NewClient creates a gateway client for the service at baseURL.
func NewClient(baseURL string, auth Authorizer, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		log:        log,
	}
}

// Request sends a JSON request and decodes the JSON response into result.
// A nil payload sends no body; a nil result discards the response body.
func (c *Client) Request(ctx context.Context, method, path string, payload, result any) error {
	body, err := c.RequestRaw(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	unmarshalErr := json.Unmarshal(body, result)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, unmarshalErr)
	}

	return nil
}

// RequestRaw sends a JSON request and returns the raw response body. Used for
// endpoints that return audio or other binary payloads.
func (c *Client) RequestRaw(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyData []byte

	if payload != nil {
		data, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", marshalErr)
		}

		bodyData = data
	}

	build := func(p string) (*http.Request, error) {
		return c.buildJSONRequest(ctx, method, p, bodyData)
	}

	return c.send(ctx, path, build)
}

// Upload sends a multipart form with one file part plus extra string fields
// and decodes the JSON response into result.
func (c *Client) Upload(ctx context.Context, path, fieldName, fileName string, file []byte, fields map[string]string, result any) error {
	body, err := c.UploadRaw(ctx, path, fieldName, fileName, file, fields)
	if err != nil {
		return err
	}

	if result == nil {
		return nil
	}

	unmarshalErr := json.Unmarshal(body, result)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to decode upload response from %s: %w", path, unmarshalErr)
	}

	return nil
}

// UploadRaw sends a multipart form and returns the raw response body. Used
// for endpoints that answer with converted media instead of JSON.
func (c *Client) UploadRaw(ctx context.Context, path, fieldName, fileName string, file []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	_, copyErr := part.Write(file)
	if copyErr != nil {
		return nil, fmt.Errorf("failed to write form file: %w", copyErr)
	}

	for key, value := range fields {
		fieldErr := writer.WriteField(key, value)
		if fieldErr != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, fieldErr)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", closeErr)
	}

	formData := buf.Bytes()
	contentType := writer.FormDataContentType()

	build := func(p string) (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(
			ctx, http.MethodPost, c.url(p), bytes.NewReader(formData))
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create upload request: %w", reqErr)
		}

		req.Header.Set("Content-Type", contentType)

		return req, nil
	}

	return c.send(ctx, path, build)
}

// DownloadFile fetches url (an absolute result URL, not service-relative) and
// returns its bytes. Transport failures follow the same retry policy as
// service requests.
func (c *Client) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		waitErr := backoffWait(ctx, attempt)
		if waitErr != nil {
			return nil, waitErr
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create download request: %w", reqErr)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			lastErr = doErr

			continue
		}

		body, readErr := readBody(resp)
		if readErr != nil {
			lastErr = readErr

			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return body, nil
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", maxTransportAttempts, lastErr)
}

func (c *Client) buildJSONRequest(ctx context.Context, method, path string, bodyData []byte) (*http.Request, error) {
	var reader io.Reader = http.NoBody

	if bodyData != nil {
		reader = bytes.NewReader(bodyData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyData != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	return req, nil
}

// send executes one logical request: transport-level retry with linear
// backoff, a single forced token refresh on 401, and a single versioned-path
// fallback on 404.
func (c *Client) send(ctx context.Context, path string, build func(string) (*http.Request, error)) ([]byte, error) {
	body, err := c.sendOnce(ctx, path, build)
	if err == nil {
		return body, nil
	}

	if IsNotFound(err) {
		alt := toggleVersionPrefix(path)
		if alt != path {
			c.log.Warn("Path %s returned 404, retrying as %s", path, alt)

			return c.sendOnce(ctx, alt, build)
		}
	}

	return nil, err
}

// sendOnce performs the transport retry loop for one path shape.
func (c *Client) sendOnce(ctx context.Context, path string, build func(string) (*http.Request, error)) ([]byte, error) {
	var lastErr error

	refreshed := false

	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		waitErr := backoffWait(ctx, attempt)
		if waitErr != nil {
			return nil, waitErr
		}

		req, buildErr := build(path)
		if buildErr != nil {
			return nil, buildErr
		}

		authErr := c.auth.Authorize(ctx, req)
		if authErr != nil {
			return nil, authErr
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			lastErr = doErr

			continue
		}

		body, readErr := readBody(resp)
		if readErr != nil {
			lastErr = readErr

			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if refreshed {
				return nil, ErrAuthenticationFailed
			}

			refreshed = true

			c.auth.Invalidate()

			// The refresh attempt does not consume a transport retry.
			attempt--

			continue
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return body, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxTransportAttempts, lastErr)
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func readBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// backoffWait sleeps for the linear backoff of the given attempt. The first
// attempt does not wait.
func backoffWait(ctx context.Context, attempt int) error {
	if attempt <= 1 {
		return nil
	}

	delay := time.Duration(attempt-1) * transportBackoffUnit

	select {
	case <-ctx.Done():
		return fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// toggleVersionPrefix flips the transitional versioned-path convention: a
// path starting with v1/ loses the prefix, any other path gains it.
func toggleVersionPrefix(path string) string {
	trimmed := strings.TrimLeft(path, "/")

	if strings.HasPrefix(trimmed, versionedPrefix) {
		return strings.TrimPrefix(trimmed, versionedPrefix)
	}

	return versionedPrefix + trimmed
}
