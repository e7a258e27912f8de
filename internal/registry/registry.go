// Package registry holds the in-memory table of jobs known to the agent.
// It is the single source of truth for job status and relay channel handles.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"robotagent/internal/relay"
)

// ErrJobNotFound is returned when an operation needs a job that is not registered.
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Tunnel identifies the remote client currently attached to a job.
type Tunnel struct {
	ClientID string
}

// Ticket names one registration of a job id. Re-registering the id issues a
// new generation; transitions made with an older ticket are ignored.
type Ticket struct {
	JobID      string
	Generation uint64
}

// Record is a copy of one job's registry entry. Callers never hold a
// reference into the registry map; the channel pointers are shared handles.
type Record struct {
	JobID      string
	JobType    string
	Generation uint64
	Status     Status
	Inbound    *relay.Channel
	Outbound   *relay.Channel
	Tunnel     *Tunnel
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ticket returns the ticket of the registration this record belongs to.
func (rec Record) Ticket() Ticket {
	return Ticket{JobID: rec.JobID, Generation: rec.Generation}
}

// Registry is a mutex-guarded map from job id to record.
// No method performs I/O or blocks while holding the lock.
type Registry struct {
	mu              sync.Mutex
	jobs            map[string]*Record
	generation      uint64
	inboundCapacity int
	logger          *slog.Logger
	now             func() time.Time
}

// New creates an empty registry. inboundCapacity bounds every job's relay channels.
func New(inboundCapacity int, logger *slog.Logger) *Registry {
	if inboundCapacity <= 0 {
		inboundCapacity = relay.DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:            make(map[string]*Record),
		inboundCapacity: inboundCapacity,
		logger:          logger,
		now:             time.Now,
	}
}

// Register creates a pending record with a fresh inbound channel and returns
// the ticket that owns it. A duplicate id replaces the previous record; the
// old record's channels are closed so anyone holding them observes the
// replacement, and the old ticket stops matching.
func (r *Registry) Register(jobID, jobType string) (t Ticket, replaced bool) {
	now := r.now()
	rec := &Record{
		JobID:     jobID,
		JobType:   jobType,
		Status:    StatusPending,
		Inbound:   relay.NewChannel(r.inboundCapacity),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.generation++
	rec.Generation = r.generation
	old, replaced := r.jobs[jobID]
	r.jobs[jobID] = rec
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("job re-registered, previous record replaced",
			slog.String("job_id", jobID),
			slog.String("previous_status", string(old.Status)),
		)
		closeChannels(old)
	}
	return rec.Ticket(), replaced
}

// Lookup returns a copy of the job's record.
func (r *Registry) Lookup(jobID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[jobID]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

// List returns copies of all records, oldest first.
func (r *Registry) List() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetStatus updates a non-terminal job's status. It is a silent no-op for an
// unknown job or one that already reached a terminal status.
func (r *Registry) SetStatus(jobID string, status Status) bool {
	return r.setStatus(jobID, 0, status)
}

// SetStatusFor is SetStatus restricted to the registration t names.
func (r *Registry) SetStatusFor(t Ticket, status Status) bool {
	return r.setStatus(t.JobID, t.Generation, status)
}

// Complete moves a job to a terminal status and closes its relay channels,
// which stops the input forwarder and any tunnel pump. The record is kept.
func (r *Registry) Complete(jobID string, status Status) bool {
	return r.complete(jobID, 0, status)
}

// CompleteFor is Complete restricted to the registration t names. A ticket
// from a replaced registration leaves the current record untouched.
func (r *Registry) CompleteFor(t Ticket, status Status) bool {
	return r.complete(t.JobID, t.Generation, status)
}

func (r *Registry) setStatus(jobID string, gen uint64, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.current(jobID, gen)
	if !ok || rec.Status.Terminal() {
		return false
	}
	rec.Status = status
	rec.UpdatedAt = r.now()
	return true
}

func (r *Registry) complete(jobID string, gen uint64, status Status) bool {
	if !status.Terminal() {
		return r.setStatus(jobID, gen, status)
	}

	r.mu.Lock()
	rec, ok := r.current(jobID, gen)
	if !ok || rec.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	rec.Status = status
	rec.UpdatedAt = r.now()
	snap := rec.snapshot()
	r.mu.Unlock()

	closeChannels(&snap)
	return true
}

// current returns the live record for jobID. A zero gen matches any
// registration. Callers must hold r.mu.
func (r *Registry) current(jobID string, gen uint64) (*Record, bool) {
	rec, ok := r.jobs[jobID]
	if !ok || (gen != 0 && rec.Generation != gen) {
		return nil, false
	}
	return rec, true
}

// AttachTunnel creates a new outbound channel for the job and records the
// client as its tunnel. Any previous tunnel is replaced and its channel closed.
func (r *Registry) AttachTunnel(jobID, clientID string) (out *relay.Channel, replaced bool, err error) {
	out = relay.NewChannel(r.inboundCapacity)

	r.mu.Lock()
	rec, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return nil, false, ErrJobNotFound
	}
	prev := rec.Outbound
	var prevClient string
	if rec.Tunnel != nil {
		prevClient = rec.Tunnel.ClientID
	}
	rec.Outbound = out
	rec.Tunnel = &Tunnel{ClientID: clientID}
	rec.UpdatedAt = r.now()
	terminal := rec.Status.Terminal()
	r.mu.Unlock()

	// A finished job accepts the attach but will never produce output.
	if terminal {
		out.Close()
	}

	if prev != nil {
		r.logger.Warn("tunnel re-attached, previous tunnel replaced",
			slog.String("job_id", jobID),
			slog.String("previous_client_id", prevClient),
			slog.String("client_id", clientID),
		)
		prev.Close()
		replaced = true
	}
	return out, replaced, nil
}

// OutboundSender returns the channel carrying process output to the attached tunnel.
func (r *Registry) OutboundSender(jobID string) (*relay.Channel, bool) {
	return r.outbound(jobID, 0)
}

// OutboundSenderFor is OutboundSender restricted to the registration t names.
func (r *Registry) OutboundSenderFor(t Ticket) (*relay.Channel, bool) {
	return r.outbound(t.JobID, t.Generation)
}

// InboundSender returns the channel carrying remote input into the job.
func (r *Registry) InboundSender(jobID string) (*relay.Channel, bool) {
	return r.inbound(jobID, 0)
}

// InboundSenderFor is InboundSender restricted to the registration t names.
func (r *Registry) InboundSenderFor(t Ticket) (*relay.Channel, bool) {
	return r.inbound(t.JobID, t.Generation)
}

func (r *Registry) outbound(jobID string, gen uint64) (*relay.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.current(jobID, gen)
	if !ok || rec.Outbound == nil {
		return nil, false
	}
	return rec.Outbound, true
}

func (r *Registry) inbound(jobID string, gen uint64) (*relay.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.current(jobID, gen)
	if !ok {
		return nil, false
	}
	return rec.Inbound, true
}

// Count returns the number of jobs per status.
func (r *Registry) Count() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Status]int, 4)
	for _, rec := range r.jobs {
		counts[rec.Status]++
	}
	return counts
}

func (rec *Record) snapshot() Record {
	cp := *rec
	if rec.Tunnel != nil {
		t := *rec.Tunnel
		cp.Tunnel = &t
	}
	return cp
}

func closeChannels(rec *Record) {
	if rec.Inbound != nil {
		rec.Inbound.Close()
	}
	if rec.Outbound != nil {
		rec.Outbound.Close()
	}
}
