// Package api contains shared JSON message and request/response structs.
// It is shared between the agent, its transport peers and agentctl.
package api

import "time"

// JobDone is published once per job when it reaches a terminal status.
type JobDone struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Logs   string `json:"logs"`
}

// TunnelAttach binds a remote client to a job's interactive session.
type TunnelAttach struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
}

// TunnelInput carries remote bytes into a job's interactive process.
type TunnelInput struct {
	JobID string `json:"job_id"`
	Data  []byte `json:"data"`
}

// TunnelOutput carries process output to the attached client.
type TunnelOutput struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
	Data     []byte `json:"data"`
}

// TunnelInfo describes the client attached to a job.
type TunnelInfo struct {
	ClientID string `json:"client_id"`
}

// JobStatusResponse is the response body for job status queries.
type JobStatusResponse struct {
	ID        string      `json:"id"`
	Type      string      `json:"job_type"`
	Status    string      `json:"status"`
	Tunnel    *TunnelInfo `json:"tunnel,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ListJobsResponse is the response body for listing jobs.
type ListJobsResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

// AttachRequest is the request body for attaching a tunnel.
// An empty ClientID is replaced by a generated one.
type AttachRequest struct {
	ClientID string `json:"client_id,omitempty"`
}

// AttachResponse is the response body after attaching a tunnel.
type AttachResponse struct {
	JobID    string `json:"job_id"`
	ClientID string `json:"client_id"`
	Replaced bool   `json:"replaced"`
}

// InputRequest is the request body for sending input to a job.
type InputRequest struct {
	Data string `json:"data"`
}

// HealthResponse is returned by the probes.
type HealthResponse struct {
	Status string         `json:"status"`
	Jobs   map[string]int `json:"jobs,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
