package conversation

import (
	"context"
	"errors"
	"hirewire/app/client/oracle"
	"hirewire/app/service/queue"
	"hirewire/app/service/workflow"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
)

type phaseAgent interface {
	Call(ctx context.Context, conv *Conversation) (*Outcome, error)
}

// Reply is what one turn hands back to the transport.
type Reply struct {
	ConversationID string            `json:"conversation_id"`
	Message        string            `json:"message"`
	Phase          workflow.Phase    `json:"phase"`
	Decision       workflow.Decision `json:"decision"`
}

// Service is the turn driver. It owns a conversation record for the duration of a turn
// and commits the whole turn or nothing.
type Service struct {
	store  Store
	lanes  *queue.Service
	agents map[workflow.Phase]phaseAgent
	now    func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	return NewService(
		do.MustInvoke[oracle.Oracle](di),
		do.MustInvoke[Store](di),
		do.MustInvoke[*queue.Service](di),
	), nil
}

func NewService(o oracle.Oracle, store Store, lanes *queue.Service) *Service {
	return &Service{
		store: store,
		lanes: lanes,
		agents: map[workflow.Phase]phaseAgent{
			workflow.PhaseIntake:        NewIntakeAgent(o),
			workflow.PhaseSpecification: NewSpecificationAgent(o),
			workflow.PhaseAssessment:    NewAssessmentAgent(o),
		},
		now: time.Now,
	}
}

func (s *Service) RunTurn(ctx context.Context, id, text string) (*Reply, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	start := time.Now()

	release, err := s.lanes.Acquire(ctx, id)
	if err != nil {
		return nil, oops.In("conversation").
			With("conversation_id", id).
			Wrapf(err, "failed to acquire conversation lane")
	}
	defer release()

	conv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if conv.Phase == workflow.PhaseDone {
		return newReply(conv, renderSummary(conv)), nil
	}

	loadedVersion := conv.Version
	now := s.now()
	conv.History.add(RoleUser, text, now)

	step, err := workflow.Route(conv.Phase, conv.Decision)
	if err != nil {
		slog.ErrorContext(ctx, "Corrupted conversation state",
			"conversation_id", id,
			"phase", conv.Phase,
			"decision", conv.Decision,
			"error", err,
			"telegram", true)
		return nil, oops.In("conversation").With("conversation_id", id).Wrap(err)
	}

	var message string
	if step == workflow.StepTerminate {
		conv.Phase = workflow.PhaseDone
		conv.PendingPrompt = ""
		message = renderSummary(conv)
	} else {
		outcome, err := s.agents[step.Phase()].Call(ctx, conv)
		if err != nil {
			return nil, oops.In("conversation").
				With("conversation_id", id, "step", step.String()).
				Wrap(err)
		}

		outcome.apply(conv)
		conv.Phase = step.Phase()
		message = outcome.Message
	}

	conv.History.add(RoleAgent, message, now)
	conv.UpdatedAt = now

	if err = s.store.Save(ctx, conv, loadedVersion); err != nil {
		return nil, oops.In("conversation").
			With("conversation_id", id, "version", loadedVersion).
			Wrapf(err, "failed to save conversation")
	}

	slog.InfoContext(ctx, "Processed turn",
		"conversation_id", id,
		"step", step.String(),
		"phase", conv.Phase.String(),
		"decision", conv.Decision.String(),
		"duration", time.Since(start))

	return newReply(conv, message), nil
}

// Create persists an empty conversation under a fresh id. Its first turn routes to intake.
func (s *Service) Create(ctx context.Context) (*Conversation, error) {
	conv := NewConversation(uuid.NewString(), s.now())

	if err := s.store.Save(ctx, conv, 0); err != nil {
		return nil, oops.In("conversation").
			With("conversation_id", conv.ID).
			Wrapf(err, "failed to create conversation")
	}

	slog.InfoContext(ctx, "Created conversation", "conversation_id", conv.ID)

	return conv, nil
}

// Get returns the latest committed state of a conversation.
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	return s.store.Load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return NewConversation(id, s.now()), nil
	}
	if err != nil {
		return nil, oops.In("conversation").
			With("conversation_id", id).
			Wrapf(err, "failed to load conversation")
	}

	return conv, nil
}

func newReply(conv *Conversation, message string) *Reply {
	return &Reply{
		ConversationID: conv.ID,
		Message:        message,
		Phase:          conv.Phase,
		Decision:       conv.Decision,
	}
}
