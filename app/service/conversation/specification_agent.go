package conversation

import (
	"context"
	"hirewire/app/client/oracle"
	"hirewire/app/service/workflow"
	"strings"
)

// SpecificationAgent drafts the job description from the collected fields and revises it
// until the user approves. An existing draft is only ever revised, never regenerated.
type SpecificationAgent struct {
	oracle oracle.Oracle
}

func NewSpecificationAgent(o oracle.Oracle) *SpecificationAgent {
	return &SpecificationAgent{oracle: o}
}

func (a *SpecificationAgent) Call(ctx context.Context, conv *Conversation) (*Outcome, error) {
	previous := conv.Specification
	firstDraft := strings.TrimSpace(previous) == ""

	// The message that led into this phase is not a revision instruction.
	userText := ""
	if !firstDraft {
		userText = conv.History.LatestUserText()
	}

	result, err := oracle.Call[oracle.SpecificationResult](ctx, a.oracle, workflow.PhaseSpecification, map[string]string{
		"collected_information":    conv.Fields.Format(),
		"previous_job_description": previous,
		"user_input":               userText,
	})
	if err != nil {
		return nil, err
	}

	question := strings.TrimSpace(oracle.Question(result.NextQuestion))
	artifact := strings.TrimSpace(result.JobDescription)

	switch {
	case firstDraft && result.Decision == workflow.DecisionComplete:
		return nil, invariantViolation(workflow.PhaseSpecification, "first job description draft cannot be approved")
	case result.Decision == workflow.DecisionComplete:
		artifact = previous
		question = ""
	case question == "":
		return nil, invariantViolation(workflow.PhaseSpecification, "incomplete specification without a follow-up question")
	}

	return &Outcome{
		Decision:      result.Decision,
		PendingPrompt: question,
		Specification: &artifact,
		Message:       renderSpecification(result.Decision, question, artifact),
	}, nil
}
