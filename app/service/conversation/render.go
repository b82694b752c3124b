package conversation

import (
	"fmt"
	"hirewire/app/service/workflow"
	"strings"
)

const emptyFields = "(nothing collected yet)"

func formatItems(items []string) string {
	var builder strings.Builder

	for i, item := range items {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fmt.Sprintf("%d. %s", i+1, item))
	}

	return builder.String()
}

func fieldsBlock(fields Fields) string {
	text := fields.Format()
	if text == "" {
		text = emptyFields
	}
	return "Collected information:\n```\n" + text + "\n```"
}

func renderIntake(decision workflow.Decision, question string, fields Fields) string {
	if decision == workflow.DecisionComplete {
		return "Great, I have all the required details.\n\n" +
			fieldsBlock(fields) +
			"\n\nI will now draft the job description. Send any message to continue."
	}

	return question + "\n\n" + fieldsBlock(fields)
}

func renderSpecification(decision workflow.Decision, question, artifact string) string {
	draft := "Job description draft:\n\n" + artifact

	if decision == workflow.DecisionComplete {
		return draft + "\n\nThe job description is approved. Screening questions come next. Send any message to continue."
	}

	return draft + "\n\n" + question
}

func renderAssessment(decision workflow.Decision, question string, items []string, artifact string) string {
	if decision == workflow.DecisionComplete {
		return "The screening questions are approved.\n\n" + finalBlock(artifact, items) + "\n\nThis concludes our session."
	}

	return "Here are the current screening questions:\n\n" + formatItems(items) + "\n\n" + question
}

// renderSummary is the terminal message. It depends on persisted state only, so repeated turns
// after termination get the same text.
func renderSummary(c *Conversation) string {
	return "This hiring workflow is complete.\n\n" + finalBlock(c.Specification, c.Assessment)
}

func finalBlock(artifact string, items []string) string {
	return "Finalized job description:\n" + artifact + "\n\nFinalized questions:\n" + formatItems(items)
}
