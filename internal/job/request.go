// Package job defines the job requests the agent accepts, their typed
// arguments, and the terminal outcome reported back to the server.
package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type selects which executor handles a request.
type Type string

const (
	// TypeContainerLaunch runs a container and optionally an interactive session in it.
	TypeContainerLaunch Type = "docker-container-launch"
)

// ErrUnsupportedType is returned by Decode for job types this agent cannot run.
var ErrUnsupportedType = errors.New("unsupported job type")

// Request is a job as delivered by the transport.
// Args holds the type-specific payload, either as a JSON object or as a
// JSON-encoded string containing the object.
type Request struct {
	ID   string          `json:"id"`
	Type Type            `json:"job_type"`
	Args json.RawMessage `json:"args"`
}

// ParseError reports a request payload that does not match its job type.
type ParseError struct {
	JobID string
	Type  Type
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s arguments for job %s: %v", e.Type, e.JobID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Args is the decoded, type-specific payload of a Request.
type Args interface {
	JobType() Type
}

// ContainerLaunch is the Args variant for TypeContainerLaunch.
type ContainerLaunch struct {
	Spec ContainerSpec
}

func (ContainerLaunch) JobType() Type { return TypeContainerLaunch }

// Decode parses the request's payload into the variant selected by its type.
// A request without a type is a container launch.
func Decode(req Request) (Args, error) {
	switch req.Type {
	case TypeContainerLaunch, "":
		req.Type = TypeContainerLaunch
		var spec ContainerSpec
		if err := unmarshalArgs(req.Args, &spec); err != nil {
			return nil, &ParseError{JobID: req.ID, Type: req.Type, Err: err}
		}
		if err := spec.Validate(); err != nil {
			return nil, &ParseError{JobID: req.ID, Type: req.Type, Err: err}
		}
		return ContainerLaunch{Spec: spec}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, req.Type)
	}
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("args are empty")
	}
	// The control server double-encodes args as a string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = []byte(inner)
	}
	return json.Unmarshal(raw, v)
}

// OutcomeStatus is the terminal status reported for a job.
type OutcomeStatus string

const (
	OutcomeDone  OutcomeStatus = "done"
	OutcomeError OutcomeStatus = "error"
)

// Outcome is the terminal result of a job. Exactly one is reported per job.
type Outcome struct {
	JobID  string        `json:"job_id"`
	Status OutcomeStatus `json:"status"`
	Logs   string        `json:"logs"`
}

// Done builds a successful outcome.
func Done(jobID, logs string) Outcome {
	return Outcome{JobID: jobID, Status: OutcomeDone, Logs: logs}
}

// Failed builds an error outcome carrying err's text as logs.
func Failed(jobID string, err error) Outcome {
	return Outcome{JobID: jobID, Status: OutcomeError, Logs: err.Error()}
}
