package conversation

import (
	"context"
	"hirewire/app/client/oracle"
	"hirewire/app/service/workflow"
	"log/slog"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// IntakeAgent collects the mandatory attributes, then loops on optional details
// until the user declines further additions.
type IntakeAgent struct {
	oracle oracle.Oracle
}

func NewIntakeAgent(o oracle.Oracle) *IntakeAgent {
	return &IntakeAgent{oracle: o}
}

func (a *IntakeAgent) Call(ctx context.Context, conv *Conversation) (*Outcome, error) {
	userText := conv.History.LatestUserText()

	nextMissing := conv.Fields.NextMissing()
	if nextMissing == "" {
		nextMissing = "none, all mandatory attributes are filled or refused"
	}

	result, err := oracle.Call[oracle.IntakeResult](ctx, a.oracle, workflow.PhaseIntake, map[string]string{
		"mandatory_attributes":   strings.Join(MandatoryAttributes, ", "),
		"next_missing_attribute": nextMissing,
		"collected_information":  conv.Fields.Format(),
		"previous_question":      conv.PendingPrompt,
		"user_input":             userText,
	})
	if err != nil {
		return nil, err
	}

	fields, rejected := MergeFields(conv.Fields, ParseFields(result.CollectedInformation), explicitUpdate(userText))
	if len(rejected) > 0 {
		slog.WarnContext(ctx, "Kept collected attributes the user did not ask to update",
			"conversation_id", conv.ID,
			"attributes", pie.Map(rejected, func(f Field) string { return f.Key }),
		)
	}

	question := strings.TrimSpace(oracle.Question(result.NextQuestion))

	switch result.Decision {
	case workflow.DecisionComplete:
		if missing := fields.MissingMandatory(); len(missing) > 0 {
			return nil, invariantViolation(workflow.PhaseIntake,
				"intake reported complete with mandatory attributes missing",
				"missing", missing)
		}
		// The turn that fills the last mandatory attribute must ask about optional details first.
		if missing := conv.Fields.MissingMandatory(); len(missing) > 0 || conv.PendingPrompt == "" {
			return nil, invariantViolation(workflow.PhaseIntake,
				"intake reported complete before the optional details question was answered",
				"missing_before_turn", missing)
		}
		question = ""
	case workflow.DecisionIncomplete:
		if question == "" {
			return nil, invariantViolation(workflow.PhaseIntake, "incomplete intake without a follow-up question")
		}
	default:
		return nil, invariantViolation(workflow.PhaseIntake, "intake returned no decision")
	}

	return &Outcome{
		Decision:      result.Decision,
		PendingPrompt: question,
		Fields:        fields,
		Message:       renderIntake(result.Decision, question, fields),
	}, nil
}
