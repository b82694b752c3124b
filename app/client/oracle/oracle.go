package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"hirewire/app/service/workflow"

	"github.com/samber/oops"
)

var (
	// ErrSchemaViolation means the oracle answered, but not with the declared phase schema.
	ErrSchemaViolation = errors.New("oracle response violates schema")
	// ErrUnavailable means the oracle could not answer: transport failure, timeout or cancellation.
	// The turn may be retried with the same input.
	ErrUnavailable = errors.New("oracle unavailable")
)

// Request is one structured reasoning call for a single phase.
type Request struct {
	Phase   workflow.Phase
	Context map[string]string
	Schema  *Schema
}

// Oracle converts a phase context into a JSON document that should satisfy req.Schema.
// Implementations do not need to validate; Call does.
type Oracle interface {
	Invoke(ctx context.Context, req Request) (json.RawMessage, error)
}

type IntakeResult struct {
	CollectedInformation string            `json:"collected_information"`
	NextQuestion         *string           `json:"next_question_to_ask"`
	Decision             workflow.Decision `json:"node_decision"`
	CurrentNode          string            `json:"current_node"`
}

type SpecificationResult struct {
	JobDescription string            `json:"job_description"`
	Decision       workflow.Decision `json:"node_decision"`
	CurrentNode    string            `json:"current_node"`
	NextQuestion   *string           `json:"next_question_to_ask"`
}

type AssessmentResult struct {
	Questions    []string          `json:"questions"`
	CurrentNode  string            `json:"current_node"`
	Decision     workflow.Decision `json:"node_decision"`
	NextQuestion *string           `json:"next_question_to_ask"`
}

// Question returns the follow-up question or "" when the oracle sent null.
func Question(q *string) string {
	if q == nil {
		return ""
	}
	return *q
}

// Call invokes the oracle for phase, validates the answer against the phase schema
// and decodes it into T.
func Call[T any](ctx context.Context, o Oracle, phase workflow.Phase, values map[string]string) (*T, error) {
	schema, err := SchemaFor(phase)
	if err != nil {
		return nil, err
	}

	raw, err := o.Invoke(ctx, Request{
		Phase:   phase,
		Context: values,
		Schema:  schema,
	})
	if err != nil {
		if errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, unavailable(phase, err)
	}

	if err = schema.Validate(raw); err != nil {
		return nil, err
	}

	var result T
	if err = json.Unmarshal(raw, &result); err != nil {
		return nil, violation(phase, err)
	}

	return &result, nil
}

func unavailable(phase workflow.Phase, err error) error {
	return oops.In("oracle").
		Code("oracle_unavailable").
		With("phase", phase.String()).
		Errorf("%w: %w", ErrUnavailable, err)
}

func violation(phase workflow.Phase, err error) error {
	return oops.In("oracle").
		Code("schema_violation").
		With("phase", phase.String()).
		Errorf("%w: %w", ErrSchemaViolation, err)
}
