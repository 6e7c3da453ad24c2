// Package introspect implements auth.TokenValidator over the remote identity
// provider's HTTP introspection endpoint (spec §4.1, AUTH_SERVICE_URL).
//
// Grounded on the teacher's internal/backend/openai/client.go functional-
// option HTTP client shape (WithHTTPClient/WithBaseURL, single json.Decode
// response path), adapted to a single GET-and-decode introspection call
// instead of a chat-completion POST.
package introspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/riftgate/gateway/internal/auth"
)

const defaultTimeout = 5 * time.Second

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client calls the identity provider's bearer-token introspection endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL (AUTH_SERVICE_URL).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type introspectResponse struct {
	ID         string                `json:"id"`
	Email      string                `json:"email"`
	UserAccess []userAccessEntryWire `json:"userAccess"`
}

type userAccessEntryWire struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	Type       string `json:"type"`
}

// Validate calls GET {baseURL}/introspect with the bearer token and decodes
// the caller's tenant memberships. Any non-200 response is treated as an
// invalid token; the caller (auth.Authenticator) maps this uniformly to
// Unauthorized without leaking upstream detail.
func (c *Client) Validate(ctx context.Context, token string) (*auth.UserData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/introspect", nil)
	if err != nil {
		return nil, fmt.Errorf("introspect: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspect: unexpected status %d", resp.StatusCode)
	}

	var wire introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("introspect: decode response: %w", err)
	}

	access := make([]auth.UserAccessEntry, 0, len(wire.UserAccess))
	for _, a := range wire.UserAccess {
		access = append(access, auth.UserAccessEntry{
			TenantID:   a.TenantID,
			TenantName: a.TenantName,
			Type:       a.Type,
		})
	}

	return &auth.UserData{ID: wire.ID, Email: wire.Email, UserAccess: access}, nil
}
