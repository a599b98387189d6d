// Package builder - build executor client for LAUNCHPAD.
//
// Submits container build pipelines to the external executor and polls
// build status. Submission is fire-and-forget: the returned handle is
// stored and results arrive through the webhook reconciler or through
// status polls.
package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"launchpad/internal/recipe"
)

// PipelineTimeout caps the executor-side lifetime of a submitted pipeline.
const PipelineTimeout = 600 * time.Second

// Status is the executor's build status vocabulary.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusQueued        Status = "QUEUED"
	StatusWorking       Status = "WORKING"
	StatusSuccess       Status = "SUCCESS"
	StatusFailure       Status = "FAILURE"
	StatusInternalError Status = "INTERNAL_ERROR"
	StatusTimeout       Status = "TIMEOUT"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
)

// Failed reports whether the status terminates the build unsuccessfully.
func (s Status) Failed() bool {
	switch s {
	case StatusFailure, StatusInternalError, StatusTimeout, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the executor will emit no further status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s.Failed()
}

// SubmitRequest carries everything the executor needs to build and
// deploy one archive.
type SubmitRequest struct {
	DeploymentID    string
	Subdomain       string
	SecretReference string
	Recipe          *recipe.Recipe
	InjectManifest  bool
	SourceBucket    string
}

// Client talks to the build executor's pipeline API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a build executor client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type pipelineStep struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
	// Inline file contents the executor materializes before the step runs.
	Files map[string]string `json:"files,omitempty"`
}

type pipelineRequest struct {
	Steps         []pipelineStep    `json:"steps"`
	Substitutions map[string]string `json:"substitutions"`
	TimeoutSecs   int               `json:"timeout_seconds"`
	Source        string            `json:"source"`
}

type pipelineResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Submit sends the pipeline and returns the executor's build handle.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	image := req.Subdomain + ":latest"
	source := fmt.Sprintf("gs://%s/%s/source.zip", req.SourceBucket, req.DeploymentID)

	inject := map[string]string{"Dockerfile": req.Recipe.Dockerfile}
	if req.InjectManifest && req.Recipe.DefaultManifest != "" {
		inject["requirements.txt"] = req.Recipe.DefaultManifest
	}

	pipeline := pipelineRequest{
		Steps: []pipelineStep{
			{Name: "fetch-source", Args: []string{source}},
			{Name: "extract"},
			{Name: "inject", Files: inject},
			{Name: "build-image", Args: []string{"--tag", image}},
			{Name: "push-image", Args: []string{image}},
			{Name: "deploy-service", Args: []string{
				"--name", req.Subdomain,
				"--image", image,
				"--memory", "512Mi",
				"--cpu", "1",
				"--min-instances", "0",
				"--max-instances", "3",
				"--timeout", "300",
				"--port", fmt.Sprintf("%d", recipe.Port),
				"--set-secret-env", "GOOGLE_API_KEY=" + req.SecretReference,
			}},
			{Name: "allow-unauthenticated", Args: []string{req.Subdomain}},
		},
		Substitutions: map[string]string{
			"deployment_id":    req.DeploymentID,
			"subdomain":        req.Subdomain,
			"secret_reference": req.SecretReference,
		},
		TimeoutSecs: int(PipelineTimeout.Seconds()),
		Source:      source,
	}

	body, err := json.Marshal(pipeline)
	if err != nil {
		return "", fmt.Errorf("encode pipeline for %s: %w", req.DeploymentID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/builds", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit build for %s: %w", req.DeploymentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit build for %s: unexpected status %d", req.DeploymentID, resp.StatusCode)
	}

	var out pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode build response for %s: %w", req.DeploymentID, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit build for %s: executor returned no build id", req.DeploymentID)
	}
	return out.ID, nil
}

// Poll returns the executor's current status for a build handle.
func (c *Client) Poll(ctx context.Context, buildID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/builds/"+buildID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll build %s: %w", buildID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("poll build %s: unexpected status %d", buildID, resp.StatusCode)
	}

	var out pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode build status %s: %w", buildID, err)
	}
	return out.Status, nil
}
