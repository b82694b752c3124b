package workflow

import (
	"errors"

	"github.com/samber/oops"
)

// ErrRoutingViolation marks a (phase, decision) pair outside the router's domain.
// It always indicates a corrupted conversation record.
var ErrRoutingViolation = errors.New("routing contract violation")

type Phase int

const (
	PhaseNone Phase = iota
	PhaseIntake
	PhaseSpecification
	PhaseAssessment
	PhaseDone
)

var phaseNames = map[Phase]string{
	PhaseNone:          "",
	PhaseIntake:        "intake",
	PhaseSpecification: "specification",
	PhaseAssessment:    "assessment",
	PhaseDone:          "done",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		if name == "" {
			return "none"
		}
		return name
	}
	return "invalid"
}

func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// Handled reports whether the phase owns a handler.
func (p Phase) Handled() bool {
	return p == PhaseIntake || p == PhaseSpecification || p == PhaseAssessment
}

func (p Phase) MarshalText() ([]byte, error) {
	name, ok := phaseNames[p]
	if !ok {
		return nil, oops.In("workflow").Code("routing_violation").With("phase", int(p)).
			Errorf("%w: unknown phase %d", ErrRoutingViolation, int(p))
	}
	return []byte(name), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePhase(name string) (Phase, error) {
	if name == "none" {
		return PhaseNone, nil
	}
	for phase, phaseName := range phaseNames {
		if phaseName == name {
			return phase, nil
		}
	}
	return PhaseNone, oops.In("workflow").Code("routing_violation").With("phase", name).
		Errorf("%w: unknown phase %q", ErrRoutingViolation, name)
}

type Decision int

const (
	DecisionUnset Decision = iota
	DecisionIncomplete
	DecisionComplete
)

var decisionNames = map[Decision]string{
	DecisionUnset:      "",
	DecisionIncomplete: "incomplete",
	DecisionComplete:   "complete",
}

func (d Decision) String() string {
	if name, ok := decisionNames[d]; ok {
		if name == "" {
			return "unset"
		}
		return name
	}
	return "invalid"
}

func (d Decision) MarshalText() ([]byte, error) {
	name, ok := decisionNames[d]
	if !ok {
		return nil, oops.In("workflow").Code("routing_violation").With("decision", int(d)).
			Errorf("%w: unknown decision %d", ErrRoutingViolation, int(d))
	}
	return []byte(name), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	name := string(text)
	if name == "unset" {
		*d = DecisionUnset
		return nil
	}
	for decision, decisionName := range decisionNames {
		if decisionName == name {
			*d = decision
			return nil
		}
	}
	return oops.In("workflow").Code("routing_violation").With("decision", name).
		Errorf("%w: unknown decision %q", ErrRoutingViolation, name)
}
