// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/checkin/lib/ref"
)

// maxResponseBody caps how much of a homeserver response is read.
// Sync responses for a busy account are the largest payloads; 8 MB is
// far beyond anything a filtered sync produces.
const maxResponseBody = 8 * 1024 * 1024

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver.
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. It holds the homeserver
// URL and HTTP transport, shared across Sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	// Request URLs are built by direct string concatenation onto the
	// base, so validate the structure once here.
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CloseIdleConnections drops idle HTTP connections in the transport's
// pool. Call after a network disruption so the next request opens a
// fresh TCP connection instead of reusing a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login authenticates with username and password, returning a Session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == "" {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	request := LoginRequest{
		Type:                     "m.login.password",
		User:                     username,
		Password:                 password,
		InitialDeviceDisplayName: "checkin",
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", "", request)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse login response: %w", err)
	}

	c.logger.Info("logged in to matrix",
		"user_id", auth.UserID,
		"device_id", auth.DeviceID,
	)
	return &Session{
		client:      c,
		accessToken: auth.AccessToken,
		userID:      auth.UserID,
		deviceID:    auth.DeviceID,
	}, nil
}

// SessionFromToken creates a Session from an existing access token.
// The token is not validated here; the first API call fails if it is
// invalid. userID must be the fully-qualified Matrix user ID.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) *Session {
	return &Session{
		client:      c,
		accessToken: accessToken,
		userID:      userID,
	}
}

// doRequest performs an HTTP request to the homeserver and returns
// the response body. On 2xx, returns the body. On 4xx/5xx, returns a
// *MatrixError. accessToken may be empty for unauthenticated
// endpoints; query may be nil.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && query[0] != nil {
		requestURL += "?" + query[0].Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All Matrix error responses share the same JSON shape.
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil {
		return nil, fmt.Errorf("messaging: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}
