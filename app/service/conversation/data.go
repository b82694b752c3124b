package conversation

import (
	"context"
	"errors"
	"hirewire/app/service/workflow"
	"regexp"
	"slices"
	"time"

	"github.com/samber/oops"
)

var (
	ErrNotFound = errors.New("conversation not found")
	// ErrConflict is returned by Store.Save when the stored version moved on.
	ErrConflict = errors.New("conversation was modified concurrently")
	// ErrInvariantViolation rejects a phase result before it is merged.
	ErrInvariantViolation = errors.New("phase invariant violation")
	ErrInvalidID          = errors.New("invalid conversation id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return oops.In("conversation").
			Code("invalid_id").
			With("conversation_id", id).
			Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Store persists conversations keyed by id.
// Save must be atomic: it commits only when the stored version equals expectedVersion
// (0 for a conversation that was never saved) and then sets conv.Version to expectedVersion+1.
type Store interface {
	Load(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation, expectedVersion int64) error
}

type Conversation struct {
	ID            string            `json:"id"`
	Version       int64             `json:"version"`
	Phase         workflow.Phase    `json:"phase"`
	Decision      workflow.Decision `json:"decision"`
	PendingPrompt string            `json:"pending_prompt"`
	Fields        Fields            `json:"collected_fields"`
	Specification string            `json:"specification_artifact"`
	Assessment    []string          `json:"assessment_items"`
	History       History           `json:"history"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Fields:    Fields{},
		History:   History{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Fields = slices.Clone(c.Fields)
	clone.Assessment = slices.Clone(c.Assessment)
	clone.History = slices.Clone(c.History)
	return &clone
}

// Outcome is the state delta a phase handler returns for one turn.
// Nil Fields, Specification and Assessment leave the current values untouched.
type Outcome struct {
	Decision      workflow.Decision
	PendingPrompt string
	Fields        Fields
	Specification *string
	Assessment    []string
	Message       string
}

func (o *Outcome) apply(c *Conversation) {
	c.Decision = o.Decision
	c.PendingPrompt = o.PendingPrompt

	if o.Fields != nil {
		c.Fields = o.Fields
	}
	if o.Specification != nil {
		c.Specification = *o.Specification
	}
	if o.Assessment != nil {
		c.Assessment = o.Assessment
	}
}

func invariantViolation(phase workflow.Phase, msg string, kv ...any) error {
	return oops.In("conversation").
		Code("invariant_violation").
		With("phase", phase.String()).
		With(kv...).
		Errorf("%w: %s", ErrInvariantViolation, msg)
}
