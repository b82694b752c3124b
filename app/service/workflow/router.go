package workflow

import "github.com/samber/oops"

// Step is the router's outcome for one turn.
type Step int

const (
	StepIntake Step = iota + 1
	StepSpecification
	StepAssessment
	StepTerminate
)

func (s Step) String() string {
	switch s {
	case StepIntake:
		return "intake"
	case StepSpecification:
		return "specification"
	case StepAssessment:
		return "assessment"
	case StepTerminate:
		return "terminate"
	default:
		return "invalid"
	}
}

// Phase returns the phase the step runs, PhaseDone for StepTerminate.
func (s Step) Phase() Phase {
	switch s {
	case StepIntake:
		return PhaseIntake
	case StepSpecification:
		return PhaseSpecification
	case StepAssessment:
		return PhaseAssessment
	case StepTerminate:
		return PhaseDone
	default:
		return PhaseNone
	}
}

var stepAfter = map[Phase]Step{
	PhaseIntake:        StepSpecification,
	PhaseSpecification: StepAssessment,
	PhaseAssessment:    StepTerminate,
}

var stepOf = map[Phase]Step{
	PhaseIntake:        StepIntake,
	PhaseSpecification: StepSpecification,
	PhaseAssessment:    StepAssessment,
}

// Route picks the handler for the next turn. It is a pure function of its arguments.
func Route(phase Phase, decision Decision) (Step, error) {
	if phase == PhaseNone {
		return StepIntake, nil
	}

	if !phase.Handled() {
		return 0, violation(phase, decision)
	}

	switch decision {
	case DecisionIncomplete:
		return stepOf[phase], nil
	case DecisionComplete:
		return stepAfter[phase], nil
	default:
		return 0, violation(phase, decision)
	}
}

func violation(phase Phase, decision Decision) error {
	return oops.In("workflow").
		Code("routing_violation").
		With("phase", phase.String(), "decision", decision.String()).
		Errorf("%w: no route for phase %s with decision %s", ErrRoutingViolation, phase, decision)
}
