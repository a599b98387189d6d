// Package runtime - runtime service client for LAUNCHPAD.
//
// The runtime hosts built images as addressable HTTP services, one per
// subdomain. The control plane only ever asks two things of it: "what is
// the origin URL for this service" and "delete this service".
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the runtime's management API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a runtime client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type serviceResponse struct {
	Name   string `json:"name"`
	Status struct {
		URL string `json:"url"`
	} `json:"status"`
}

// OriginURL returns the public origin of the service named by the
// subdomain, or "" when the service exists but has not yet been
// assigned a URL.
func (c *Client) OriginURL(ctx context.Context, subdomain string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/services/"+subdomain, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query runtime service %s: %w", subdomain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query runtime service %s: unexpected status %d", subdomain, resp.StatusCode)
	}

	var out serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode runtime response for %s: %w", subdomain, err)
	}

	if out.Status.URL != "" {
		if _, err := url.ParseRequestURI(out.Status.URL); err != nil {
			return "", fmt.Errorf("runtime reported malformed origin for %s: %w", subdomain, err)
		}
	}
	return out.Status.URL, nil
}

// DeleteService removes the runtime service. 404 on re-attempt is
// non-fatal; deletes must be idempotent for the reaper.
func (c *Client) DeleteService(ctx context.Context, subdomain string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/v1/services/"+subdomain, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete runtime service %s: %w", subdomain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete runtime service %s: unexpected status %d", subdomain, resp.StatusCode)
	}
	return nil
}
