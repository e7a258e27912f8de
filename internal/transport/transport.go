// Package transport carries job requests and tunnel bytes between the agent
// and the control server.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind identifies the message carried by an envelope.
type Kind string

const (
	// Server to agent.
	KindJobNew       Kind = "job_new"
	KindTunnelAttach Kind = "tunnel_attach"
	KindTunnelInput  Kind = "tunnel_input"

	// Agent to server.
	KindJobDone      Kind = "job_done"
	KindTunnelOutput Kind = "tunnel_output"
)

// Inbound reports whether k is sent by the server to the agent.
func (k Kind) Inbound() bool {
	switch k {
	case KindJobNew, KindTunnelAttach, KindTunnelInput:
		return true
	}
	return false
}

// Envelope is one received message. Ack or Nack must be called exactly once.
type Envelope struct {
	Kind Kind
	Body []byte
	// Headers carries string message headers, including trace context.
	Headers map[string]string

	ack  func() error
	nack func(requeue bool) error
}

// NewEnvelope builds an envelope with the given settlement callbacks. Nil
// callbacks make Ack and Nack no-ops.
func NewEnvelope(kind Kind, body []byte, ack func() error, nack func(requeue bool) error) Envelope {
	return Envelope{Kind: kind, Body: body, ack: ack, nack: nack}
}

// Ack confirms the message was handled.
func (e Envelope) Ack() error {
	if e.ack == nil {
		return nil
	}
	return e.ack()
}

// Nack rejects the message, optionally asking for redelivery.
func (e Envelope) Nack(requeue bool) error {
	if e.nack == nil {
		return nil
	}
	return e.nack(requeue)
}

// Transport is the agent's connection to the control server.
type Transport interface {
	// Subscribe starts delivery of inbound envelopes. The channel is closed
	// when ctx is done or the connection is lost.
	Subscribe(ctx context.Context) (<-chan Envelope, error)

	// Publish sends one outbound message.
	Publish(ctx context.Context, kind Kind, body []byte) error

	Close() error
}

// PublishJSON marshals v and publishes it as kind.
func PublishJSON(ctx context.Context, t Transport, kind Kind, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return t.Publish(ctx, kind, body)
}
