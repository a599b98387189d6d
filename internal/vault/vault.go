// Package vault - credential vault adapter for LAUNCHPAD.
//
// Per-deployment user secrets are written to the external secret store
// and referenced by the runtime for environment binding resolution. The
// control plane never logs, persists, or reads back a secret value after
// store.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

var (
	ErrKeyTooShort   = errors.New("api key must be at least 20 characters")
	ErrKeyTooLong    = errors.New("api key must be at most 100 characters")
	ErrKeyBadCharset = errors.New("api key may only contain letters, digits, '_' and '-'")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateKey applies the only checks the control plane performs on a
// user-provided key. There is no semantic validation; the runtime must
// tolerate an invalid key yielding a degraded app.
func ValidateKey(key string) error {
	if len(key) < 20 {
		return ErrKeyTooShort
	}
	if len(key) > 100 {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyBadCharset
	}
	return nil
}

// SecretName returns the vault-side name for a deployment's secret.
func SecretName(deploymentID string) string {
	return "gemini-api-key-" + deploymentID
}

// Client talks to the external secret store's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a vault client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type storeRequest struct {
	Value string `json:"value"`
}

type storeResponse struct {
	Reference string `json:"reference"`
}

// Store writes a new version of the deployment's secret, creating the
// secret if absent, and returns an opaque reference the runtime can
// resolve. Idempotent with respect to the secret container.
func (c *Client) Store(ctx context.Context, deploymentID, secret string) (string, error) {
	if err := ValidateKey(secret); err != nil {
		return "", err
	}

	name := SecretName(deploymentID)
	body, err := json.Marshal(storeRequest{Value: secret})
	if err != nil {
		return "", fmt.Errorf("encode secret payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/v1/secrets/"+name, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault store for %s: %w", deploymentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("vault store for %s: unexpected status %d", deploymentID, resp.StatusCode)
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode vault response for %s: %w", deploymentID, err)
	}
	if out.Reference == "" {
		out.Reference = name + "/versions/latest"
	}
	return out.Reference, nil
}

// Destroy removes the deployment's secret. A missing secret is not an
// error; destroy runs as a compensating action and during reaps, both of
// which must be idempotent.
func (c *Client) Destroy(ctx context.Context, deploymentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/secrets/"+SecretName(deploymentID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vault destroy for %s: %w", deploymentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vault destroy for %s: unexpected status %d", deploymentID, resp.StatusCode)
	}
	return nil
}
