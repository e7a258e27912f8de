package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"robotagent/pkg/api"
)

// AgentClient handles calls to the agent's control API.
type AgentClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAgentClient creates a new client with the given base URL.
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func newAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var apiErr api.ErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func (c *AgentClient) do(method, path string, body, out any, expected ...int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range expected {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return newAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// GetJob sends GET /jobs/{id}.
func (c *AgentClient) GetJob(jobID string) (*api.JobStatusResponse, error) {
	var result api.JobStatusResponse
	if err := c.do(http.MethodGet, "/jobs/"+jobID, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs.
func (c *AgentClient) ListJobs() ([]api.JobStatusResponse, error) {
	var result api.ListJobsResponse
	if err := c.do(http.MethodGet, "/jobs", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// Attach sends POST /jobs/{id}/tunnel.
func (c *AgentClient) Attach(jobID, clientID string) (*api.AttachResponse, error) {
	var result api.AttachResponse
	req := api.AttachRequest{ClientID: clientID}
	if err := c.do(http.MethodPost, "/jobs/"+jobID+"/tunnel", req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendInput sends POST /jobs/{id}/input.
func (c *AgentClient) SendInput(jobID, data string) error {
	return c.do(http.MethodPost, "/jobs/"+jobID+"/input", api.InputRequest{Data: data}, nil, http.StatusAccepted)
}

// StreamOutput copies GET /jobs/{id}/output to w until the stream ends or ctx is cancelled.
func (c *AgentClient) StreamOutput(ctx context.Context, jobID string, w io.Writer) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/jobs/"+jobID+"/output", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// The stream has no overall deadline.
	client := &http.Client{Transport: c.HTTPClient.Transport}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newAPIError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil && ctx.Err() == nil {
		return fmt.Errorf("output stream failed: %w", err)
	}
	return nil
}
