package conversation

import (
	"context"
	"hirewire/app/client/oracle"
	"hirewire/app/service/workflow"
	"slices"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// AssessmentAgent derives the screening questions from the job description.
// Every accepted list holds exactly oracle.AssessmentSize items.
type AssessmentAgent struct {
	oracle oracle.Oracle
}

func NewAssessmentAgent(o oracle.Oracle) *AssessmentAgent {
	return &AssessmentAgent{oracle: o}
}

func (a *AssessmentAgent) Call(ctx context.Context, conv *Conversation) (*Outcome, error) {
	previous := conv.Assessment
	firstDraft := len(previous) == 0

	userText := ""
	if !firstDraft {
		userText = conv.History.LatestUserText()
	}

	result, err := oracle.Call[oracle.AssessmentResult](ctx, a.oracle, workflow.PhaseAssessment, map[string]string{
		"job_description":    conv.Specification,
		"previous_questions": formatItems(previous),
		"user_input":         userText,
	})
	if err != nil {
		return nil, err
	}

	question := strings.TrimSpace(oracle.Question(result.NextQuestion))
	items := pie.Map(result.Questions, strings.TrimSpace)

	switch {
	case firstDraft && result.Decision == workflow.DecisionComplete:
		return nil, invariantViolation(workflow.PhaseAssessment, "first question list cannot be approved")
	case result.Decision == workflow.DecisionComplete:
		items = slices.Clone(previous)
		question = ""
	case question == "":
		return nil, invariantViolation(workflow.PhaseAssessment, "incomplete assessment without a follow-up question")
	}

	if err = checkItems(items); err != nil {
		return nil, err
	}

	return &Outcome{
		Decision:      result.Decision,
		PendingPrompt: question,
		Assessment:    items,
		Message:       renderAssessment(result.Decision, question, items, conv.Specification),
	}, nil
}

func checkItems(items []string) error {
	if len(items) != oracle.AssessmentSize {
		return invariantViolation(workflow.PhaseAssessment, "question list must hold exactly ten items",
			"count", len(items))
	}

	blank := pie.Filter(items, func(item string) bool { return item == "" })
	if len(blank) > 0 {
		return invariantViolation(workflow.PhaseAssessment, "question list contains blank items",
			"blank", len(blank))
	}

	return nil
}
