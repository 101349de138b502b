package queue

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs across bands. Higher values dequeue first.
type Priority int

// Priority bands, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a priority name to its band. Unknown names map to
// PriorityNormal.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// MarshalJSON renders the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePriority(s)
	return nil
}

// Status is a job's lifecycle state.
type Status string

// Job lifecycle states. Completed and Failed are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

// Terminal reports whether the status ends the job's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the typed unit of work a job carries. Implementations are
// concrete kinds checked at compile time; there is no untyped payload.
type Payload interface {
	// Kind names the payload type for dispatch and logging.
	Kind() string

	// Fingerprint returns a stable string identifying the payload
	// content. It feeds the job ID hash.
	Fingerprint() string
}

// CompletionPayload is a deferred call to the upstream completion API.
type CompletionPayload struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Kind implements Payload.
func (p CompletionPayload) Kind() string { return "completion" }

// Fingerprint implements Payload.
func (p CompletionPayload) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%d", p.Prompt, p.Model, p.MaxTokens)
}

// RawPayload carries opaque bytes for processors the engine does not
// interpret.
type RawPayload struct {
	Data []byte `json:"data"`
}

// Kind implements Payload.
func (p RawPayload) Kind() string { return "raw" }

// Fingerprint implements Payload.
func (p RawPayload) Fingerprint() string { return string(p.Data) }

// Job is one unit of deferred work. The queue owns the struct; callers
// read it through Snapshot copies.
type Job struct {
	ID          string     `json:"id"`
	Payload     Payload    `json:"-"`
	PayloadKind string     `json:"payload_kind"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      string     `json:"result,omitempty"`

	// eligibleAt gates retry jobs: a RETRY job is dequeued only once the
	// clock passes it.
	eligibleAt time.Time

	// seq breaks createdAt ties so FIFO within a band is total.
	seq uint64
}

// clone returns a copy safe to hand outside the queue lock.
func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// NewJobID derives a job identifier from the payload hash, a random
// fragment, and the creation timestamp. Uniqueness needs no central
// sequence, so any process can mint IDs for a shared queue.
func NewJobID(p Payload, createdAt time.Time) string {
	h := fnv.New32a()
	h.Write([]byte(p.Kind()))
	h.Write([]byte{0})
	h.Write([]byte(p.Fingerprint()))
	random := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("job_%08x_%s_%d", h.Sum32(), random, createdAt.UnixNano())
}

// EncodePayload renders a typed payload as JSON for storage or transport.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload reconstructs a typed payload from its kind and JSON data.
func DecodePayload(kind string, data []byte) (Payload, error) {
	switch kind {
	case CompletionPayload{}.Kind():
		var p CompletionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case RawPayload{}.Kind():
		var p RawPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("queue: unknown payload kind %q", kind)
	}
}
