package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clipgreet/personalizer/internal/gateway"
)

const pathAuthToken = "v1/auth/token"

// Fallback lifetime when the service omits expires_in.
const defaultTokenLifetime = 10 * time.Minute

// ErrEmptyToken indicates the auth endpoint returned no token.
var ErrEmptyToken = errors.New("auth response contains no token")

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// TokenRefresher returns a gateway.TokenFunc that exchanges the static API
// key for a short-lived bearer token. Used to build the avatar service
// session.
func TokenRefresher(baseURL, apiKey string, timeout time.Duration) gateway.TokenFunc {
	client := &http.Client{Timeout: timeout}
	endpoint := strings.TrimRight(baseURL, "/") + "/" + pathAuthToken

	return func(ctx context.Context) (string, time.Duration, error) {
		payload, marshalErr := json.Marshal(map[string]string{"api_key": apiKey})
		if marshalErr != nil {
			return "", 0, fmt.Errorf("failed to marshal auth request: %w", marshalErr)
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return "", 0, fmt.Errorf("failed to create auth request: %w", reqErr)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, doErr := client.Do(req)
		if doErr != nil {
			return "", 0, fmt.Errorf("auth request failed: %w", doErr)
		}

		defer func() {
			_ = resp.Body.Close()
		}()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", 0, fmt.Errorf("failed to read auth response: %w", readErr)
		}

		if resp.StatusCode != http.StatusOK {
			return "", 0, &gateway.RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		var parsed tokenResponse

		unmarshalErr := json.Unmarshal(body, &parsed)
		if unmarshalErr != nil {
			return "", 0, fmt.Errorf("failed to decode auth response: %w", unmarshalErr)
		}

		if parsed.Token == "" {
			return "", 0, ErrEmptyToken
		}

		lifetime := defaultTokenLifetime
		if parsed.ExpiresIn > 0 {
			lifetime = time.Duration(parsed.ExpiresIn) * time.Second
		}

		return parsed.Token, lifetime, nil
	}
}
