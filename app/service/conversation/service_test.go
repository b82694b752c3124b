package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hirewire/app/client/oracle"
	"hirewire/app/service/conversation"
	"hirewire/app/service/queue"
	"hirewire/app/service/store"
	"hirewire/app/service/workflow"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type answer struct {
	raw string
	err error
}

// scriptedOracle replays answers in order and records every request.
type scriptedOracle struct {
	mu       sync.Mutex
	answers  []answer
	requests []oracle.Request
}

func (o *scriptedOracle) push(raw string) *scriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.answers = append(o.answers, answer{raw: raw})
	return o
}

func (o *scriptedOracle) fail(err error) *scriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.answers = append(o.answers, answer{err: err})
	return o
}

func (o *scriptedOracle) Invoke(_ context.Context, req oracle.Request) (json.RawMessage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, req)
	if len(o.answers) == 0 {
		return nil, fmt.Errorf("unexpected oracle call for %s", req.Phase)
	}

	next := o.answers[0]
	o.answers = o.answers[1:]
	if next.err != nil {
		return nil, next.err
	}

	return json.RawMessage(next.raw), nil
}

func (o *scriptedOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.requests)
}

func (o *scriptedOracle) last() oracle.Request {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.requests[len(o.requests)-1]
}

type funcOracle func(req oracle.Request) (json.RawMessage, error)

func (f funcOracle) Invoke(_ context.Context, req oracle.Request) (json.RawMessage, error) {
	return f(req)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func question(q string) any {
	if q == "" {
		return nil
	}
	return q
}

func intakeAnswer(info, q, decision string) string {
	return mustJSON(map[string]any{
		"collected_information": info,
		"next_question_to_ask":  question(q),
		"node_decision":         decision,
		"current_node":          oracle.NodeIntake,
	})
}

func specificationAnswer(jd, q, decision string) string {
	return mustJSON(map[string]any{
		"job_description":      jd,
		"next_question_to_ask": question(q),
		"node_decision":        decision,
		"current_node":         oracle.NodeSpecification,
	})
}

func assessmentAnswer(items []string, q, decision string) string {
	return mustJSON(map[string]any{
		"questions":            items,
		"next_question_to_ask": question(q),
		"node_decision":        decision,
		"current_node":         oracle.NodeAssessment,
	})
}

func screeningQuestions(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("Screening question %d?", i+1)
	}
	return items
}

const fullIntake = `company_name: Acme
role: backend engineer
skills: Go, Kafka
experience: 5 years
mode_of_work: hybrid
location: Berlin`

const jobDescription = "Acme is hiring a backend engineer in Berlin (hybrid). You bring 5 years of Go and Kafka."

type fixture struct {
	oracle  *scriptedOracle
	store   *store.Memory
	service *conversation.Service
}

func newFixture() *fixture {
	o := &scriptedOracle{}
	s := store.NewMemory()

	return &fixture{
		oracle:  o,
		store:   s,
		service: conversation.NewService(o, s, queue.NewService()),
	}
}

func (f *fixture) seed(t *testing.T, conv *conversation.Conversation) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), conv, 0))
}

func (f *fixture) load(t *testing.T, id string) *conversation.Conversation {
	t.Helper()
	conv, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return conv
}

func seeded(id string, phase workflow.Phase, decision workflow.Decision) *conversation.Conversation {
	conv := conversation.NewConversation(id, time.Now())
	conv.Phase = phase
	conv.Decision = decision
	conv.Fields = conversation.ParseFields(fullIntake)
	return conv
}

func TestIntakeFirstTurn(t *testing.T) {
	f := newFixture()
	f.oracle.push(intakeAnswer("role: backend engineer\nlocation: Berlin", "What is the company name?", "incomplete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "We need a backend engineer in Berlin")
	require.NoError(t, err)

	assert.Equal(t, workflow.PhaseIntake, reply.Phase)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)
	assert.Contains(t, reply.Message, "What is the company name?")
	assert.Contains(t, reply.Message, "location: Berlin")

	req := f.oracle.last()
	assert.Equal(t, workflow.PhaseIntake, req.Phase)
	assert.Equal(t, "We need a backend engineer in Berlin", req.Context["user_input"])
	assert.Equal(t, "company_name", req.Context["next_missing_attribute"])

	conv := f.load(t, "c1")
	assert.Equal(t, int64(1), conv.Version)
	assert.Equal(t, "What is the company name?", conv.PendingPrompt)
	assert.Equal(t, conversation.Fields{
		{Key: "role", Value: "backend engineer"},
		{Key: "location", Value: "Berlin"},
	}, conv.Fields)
	require.Len(t, conv.History, 2)
	assert.Equal(t, conversation.RoleUser, conv.History[0].Role)
	assert.Equal(t, conversation.RoleAgent, conv.History[1].Role)
	assert.Equal(t, reply.Message, conv.History[1].Content)
}

func TestIntakeCompleteMovesToSpecification(t *testing.T) {
	f := newFixture()
	conv := seeded("c1", workflow.PhaseIntake, workflow.DecisionIncomplete)
	conv.PendingPrompt = "Anything else you want to add?"
	f.seed(t, conv)

	f.oracle.push(intakeAnswer(fullIntake, "", "complete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "no")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseIntake, reply.Phase)
	assert.Equal(t, workflow.DecisionComplete, reply.Decision)
	assert.Empty(t, f.load(t, "c1").PendingPrompt)

	f.oracle.push(specificationAnswer(jobDescription, "Would you like any changes?", "incomplete"))

	reply, err = f.service.RunTurn(context.Background(), "c1", "ignore me")
	require.NoError(t, err)

	req := f.oracle.last()
	assert.Equal(t, workflow.PhaseSpecification, req.Phase)
	assert.Empty(t, req.Context["user_input"])
	assert.Empty(t, req.Context["previous_job_description"])
	assert.Contains(t, req.Context["collected_information"], "company_name: Acme")

	assert.Equal(t, workflow.PhaseSpecification, reply.Phase)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)
	assert.Contains(t, reply.Message, jobDescription)
	assert.Equal(t, jobDescription, f.load(t, "c1").Specification)
}

func TestIntakeCompleteWithMissingAttributes(t *testing.T) {
	f := newFixture()
	f.oracle.push(intakeAnswer("role: backend engineer", "", "complete"))

	_, err := f.service.RunTurn(context.Background(), "c1", "backend engineer")
	require.ErrorIs(t, err, conversation.ErrInvariantViolation)

	_, err = f.store.Load(context.Background(), "c1")
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestIntakeIncompleteWithoutQuestion(t *testing.T) {
	f := newFixture()
	f.oracle.push(intakeAnswer("role: backend engineer", "", "incomplete"))

	_, err := f.service.RunTurn(context.Background(), "c1", "backend engineer")
	require.ErrorIs(t, err, conversation.ErrInvariantViolation)
}

func TestIntakeKeepsValuesWithoutExplicitUpdate(t *testing.T) {
	f := newFixture()
	conv := conversation.NewConversation("c1", time.Now())
	conv.Phase = workflow.PhaseIntake
	conv.Decision = workflow.DecisionIncomplete
	conv.Fields = conversation.Fields{{Key: "role", Value: "backend engineer"}}
	conv.PendingPrompt = "Where is the role located?"
	f.seed(t, conv)

	f.oracle.push(intakeAnswer("role: frontend engineer\nlocation: Berlin", "What is the company name?", "incomplete"))
	_, err := f.service.RunTurn(context.Background(), "c1", "Berlin")
	require.NoError(t, err)

	role, _ := f.load(t, "c1").Fields.Get("role")
	assert.Equal(t, "backend engineer", role)

	f.oracle.push(intakeAnswer("role: frontend engineer\nlocation: Berlin", "What is the company name?", "incomplete"))
	_, err = f.service.RunTurn(context.Background(), "c1", "Actually, change the role to frontend engineer")
	require.NoError(t, err)

	role, _ = f.load(t, "c1").Fields.Get("role")
	assert.Equal(t, "frontend engineer", role)
	location, _ := f.load(t, "c1").Fields.Get("location")
	assert.Equal(t, "Berlin", location)
}

func TestIntakeRefusalCountsAsFilled(t *testing.T) {
	f := newFixture()
	f.oracle.push(intakeAnswer(
		"company_name: Not Provided\nrole: backend engineer\nskills: Go\nexperience: 3 years\nmode_of_work: remote\nlocation: Not Provided",
		"Anything else you want to add?", "incomplete"))

	_, err := f.service.RunTurn(context.Background(), "c1", "I'd rather not say the company or location")
	require.NoError(t, err)

	conv := f.load(t, "c1")
	assert.Empty(t, conv.Fields.MissingMandatory())

	f.oracle.push(intakeAnswer(conv.Fields.Format(), "", "complete"))
	reply, err := f.service.RunTurn(context.Background(), "c1", "no")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionComplete, reply.Decision)
}

func TestSpecificationRevisionAndApproval(t *testing.T) {
	f := newFixture()
	conv := seeded("c1", workflow.PhaseSpecification, workflow.DecisionIncomplete)
	conv.Specification = jobDescription
	conv.PendingPrompt = "Would you like any changes?"
	f.seed(t, conv)

	revised := jobDescription + " Salary 80-95k EUR."
	f.oracle.push(specificationAnswer(revised, "Anything else to change?", "incomplete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "add the salary range 80-95k EUR")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)

	req := f.oracle.last()
	assert.Equal(t, "add the salary range 80-95k EUR", req.Context["user_input"])
	assert.Equal(t, jobDescription, req.Context["previous_job_description"])
	assert.Equal(t, revised, f.load(t, "c1").Specification)

	f.oracle.push(specificationAnswer("something the oracle rewrote", "", "complete"))

	reply, err = f.service.RunTurn(context.Background(), "c1", "looks good")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionComplete, reply.Decision)

	stored := f.load(t, "c1")
	assert.Equal(t, revised, stored.Specification)
	assert.Empty(t, stored.PendingPrompt)
}

func TestSpecificationFirstDraftCannotBeApproved(t *testing.T) {
	f := newFixture()
	f.seed(t, seeded("c1", workflow.PhaseIntake, workflow.DecisionComplete))
	f.oracle.push(specificationAnswer(jobDescription, "", "complete"))

	_, err := f.service.RunTurn(context.Background(), "c1", "approve")
	require.ErrorIs(t, err, conversation.ErrInvariantViolation)

	conv := f.load(t, "c1")
	assert.Equal(t, workflow.PhaseIntake, conv.Phase)
	assert.Empty(t, conv.Specification)
}

func TestAssessmentRevisionKeepsTenItems(t *testing.T) {
	f := newFixture()
	conv := seeded("c1", workflow.PhaseAssessment, workflow.DecisionIncomplete)
	conv.Specification = jobDescription
	conv.Assessment = screeningQuestions(10)
	conv.PendingPrompt = "Would you like to change any question?"
	f.seed(t, conv)

	revised := screeningQuestions(10)
	revised[2] = "How have you operated services on Kubernetes?"
	f.oracle.push(assessmentAnswer(revised, "Anything else to change?", "incomplete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "Replace question 3 with one about Kubernetes")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseAssessment, reply.Phase)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)
	assert.Contains(t, reply.Message, "3. How have you operated services on Kubernetes?")
	assert.Contains(t, reply.Message, "Anything else to change?")

	req := f.oracle.last()
	assert.Equal(t, jobDescription, req.Context["job_description"])
	assert.Contains(t, req.Context["previous_questions"], "10. Screening question 10?")

	stored := f.load(t, "c1")
	assert.Equal(t, revised, stored.Assessment)
}

func TestAssessmentRejectsWrongCount(t *testing.T) {
	f := newFixture()
	conv := seeded("c1", workflow.PhaseAssessment, workflow.DecisionIncomplete)
	conv.Specification = jobDescription
	conv.Assessment = screeningQuestions(10)
	conv.PendingPrompt = "Would you like to change any question?"
	f.seed(t, conv)

	f.oracle.push(assessmentAnswer(screeningQuestions(9), "Anything else?", "incomplete"))

	_, err := f.service.RunTurn(context.Background(), "c1", "drop the last question")
	require.ErrorIs(t, err, oracle.ErrSchemaViolation)

	stored := f.load(t, "c1")
	assert.Equal(t, screeningQuestions(10), stored.Assessment)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, stored.History)
}

func TestUnavailableOracleLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	conv := seeded("c1", workflow.PhaseIntake, workflow.DecisionIncomplete)
	conv.PendingPrompt = "Anything else you want to add?"
	f.seed(t, conv)

	f.oracle.fail(errors.New("connection refused"))

	_, err := f.service.RunTurn(context.Background(), "c1", "no")
	require.ErrorIs(t, err, oracle.ErrUnavailable)

	stored := f.load(t, "c1")
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, stored.History)
	assert.Equal(t, workflow.DecisionIncomplete, stored.Decision)

	f.oracle.push(intakeAnswer(fullIntake, "", "complete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "no")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionComplete, reply.Decision)
	assert.Equal(t, int64(2), f.load(t, "c1").Version)
}

func TestCorruptedStateIsRoutingViolation(t *testing.T) {
	f := newFixture()
	f.seed(t, seeded("c1", workflow.PhaseAssessment, workflow.DecisionUnset))

	_, err := f.service.RunTurn(context.Background(), "c1", "hello")
	require.ErrorIs(t, err, workflow.ErrRoutingViolation)
	assert.Equal(t, 0, f.oracle.calls())
}

func TestInvalidConversationID(t *testing.T) {
	f := newFixture()

	_, err := f.service.RunTurn(context.Background(), "../escape", "hello")
	require.ErrorIs(t, err, conversation.ErrInvalidID)

	_, err = f.service.Get(context.Background(), "")
	require.ErrorIs(t, err, conversation.ErrInvalidID)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.RunTurn(ctx, "c1", "hello")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.oracle.calls())
}

func TestFullWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	items := screeningQuestions(10)
	revised := screeningQuestions(10)
	revised[2] = "How have you operated services on Kubernetes?"

	f.oracle.
		push(intakeAnswer("role: backend engineer\nlocation: Berlin", "What is the company name?", "incomplete")).
		push(intakeAnswer(fullIntake, "Anything else you want to add?", "incomplete")).
		push(intakeAnswer(fullIntake, "", "complete")).
		push(specificationAnswer(jobDescription, "Would you like any changes?", "incomplete")).
		push(specificationAnswer(jobDescription, "", "complete")).
		push(assessmentAnswer(items, "Would you like to change any question?", "incomplete")).
		push(assessmentAnswer(revised, "Anything else to change?", "incomplete")).
		push(assessmentAnswer(revised, "", "complete"))

	turns := []struct {
		text     string
		phase    workflow.Phase
		decision workflow.Decision
	}{
		{"We need a backend engineer in Berlin", workflow.PhaseIntake, workflow.DecisionIncomplete},
		{"Acme, Go and Kafka, 5 years, hybrid", workflow.PhaseIntake, workflow.DecisionIncomplete},
		{"no", workflow.PhaseIntake, workflow.DecisionComplete},
		{"ok", workflow.PhaseSpecification, workflow.DecisionIncomplete},
		{"looks good", workflow.PhaseSpecification, workflow.DecisionComplete},
		{"continue", workflow.PhaseAssessment, workflow.DecisionIncomplete},
		{"Replace question 3 with one about Kubernetes", workflow.PhaseAssessment, workflow.DecisionIncomplete},
		{"approve", workflow.PhaseAssessment, workflow.DecisionComplete},
		{"thanks", workflow.PhaseDone, workflow.DecisionComplete},
	}

	var last *conversation.Reply
	for i, turn := range turns {
		reply, err := f.service.RunTurn(ctx, "c1", turn.text)
		require.NoError(t, err, "turn %d", i)
		assert.Equal(t, turn.phase, reply.Phase, "turn %d", i)
		assert.Equal(t, turn.decision, reply.Decision, "turn %d", i)
		last = reply
	}

	assert.Equal(t, 8, f.oracle.calls())
	assert.True(t, strings.HasPrefix(last.Message, "This hiring workflow is complete."))
	assert.Contains(t, last.Message, jobDescription)
	assert.Contains(t, last.Message, "3. How have you operated services on Kubernetes?")

	conv := f.load(t, "c1")
	assert.Equal(t, int64(len(turns)), conv.Version)
	assert.Len(t, conv.History, 2*len(turns))
	assert.Equal(t, revised, conv.Assessment)
	assert.Equal(t, jobDescription, conv.Specification)

	// Turns after termination are answered from state and change nothing.
	again, err := f.service.RunTurn(ctx, "c1", "hello?")
	require.NoError(t, err)
	assert.Equal(t, last.Message, again.Message)
	assert.Equal(t, workflow.PhaseDone, again.Phase)
	assert.Equal(t, conv.Version, f.load(t, "c1").Version)
	assert.Equal(t, 8, f.oracle.calls())
}

func TestConcurrentTurns(t *testing.T) {
	o := funcOracle(func(req oracle.Request) (json.RawMessage, error) {
		return json.RawMessage(intakeAnswer("role: backend engineer", "What is the company name?", "incomplete")), nil
	})
	s := store.NewMemory()
	service := conversation.NewService(o, s, queue.NewService())

	const perConversation = 5

	var g errgroup.Group
	for c := range 4 {
		id := fmt.Sprintf("c%d", c)
		for i := range perConversation {
			g.Go(func() error {
				_, err := service.RunTurn(context.Background(), id, fmt.Sprintf("message %d", i))
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for c := range 4 {
		conv, err := s.Load(context.Background(), fmt.Sprintf("c%d", c))
		require.NoError(t, err)
		assert.Equal(t, int64(perConversation), conv.Version)
		require.Len(t, conv.History, 2*perConversation)
		for i := 0; i < len(conv.History); i += 2 {
			assert.Equal(t, conversation.RoleUser, conv.History[i].Role)
			assert.Equal(t, conversation.RoleAgent, conv.History[i+1].Role)
		}
	}
}

func TestCreate(t *testing.T) {
	f := newFixture()

	conv, err := f.service.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, conversation.ValidateID(conv.ID))
	assert.Equal(t, int64(1), conv.Version)
	assert.Equal(t, workflow.PhaseNone, conv.Phase)

	other, err := f.service.Create(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)

	f.oracle.push(intakeAnswer("role: backend engineer", "What is the company name?", "incomplete"))

	reply, err := f.service.RunTurn(context.Background(), conv.ID, "backend engineer")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseIntake, reply.Phase)

	stored, err := f.service.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestIntakeCannotCompleteOnTheTurnThatFillsMandatory(t *testing.T) {
	f := newFixture()
	f.oracle.push(intakeAnswer(fullIntake, "", "complete"))

	_, err := f.service.RunTurn(context.Background(), "c1",
		"Acme needs a backend engineer in Berlin, hybrid, Go and Kafka, 5 years")
	require.ErrorIs(t, err, conversation.ErrInvariantViolation)

	_, err = f.store.Load(context.Background(), "c1")
	require.ErrorIs(t, err, conversation.ErrNotFound)

	// Mandatory attributes were already complete, but the optional details question was never asked.
	f.seed(t, seeded("c2", workflow.PhaseIntake, workflow.DecisionIncomplete))
	f.oracle.push(intakeAnswer(fullIntake, "", "complete"))

	_, err = f.service.RunTurn(context.Background(), "c2", "no")
	require.ErrorIs(t, err, conversation.ErrInvariantViolation)
	assert.Equal(t, int64(1), f.load(t, "c2").Version)
}

func TestIntakeOptionalDetailsLoop(t *testing.T) {
	const (
		confirm = "Would you like to add any other details, such as salary or benefits?"
		open    = "What else would you like to add?"
	)

	f := newFixture()
	conv := seeded("c1", workflow.PhaseIntake, workflow.DecisionIncomplete)
	conv.PendingPrompt = confirm
	f.seed(t, conv)

	f.oracle.push(intakeAnswer(fullIntake, open, "incomplete"))

	reply, err := f.service.RunTurn(context.Background(), "c1", "yes")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)
	assert.Equal(t, confirm, f.oracle.last().Context["previous_question"])
	assert.Equal(t, open, f.load(t, "c1").PendingPrompt)

	f.oracle.push(intakeAnswer(
		strings.Replace(fullIntake, "role: backend engineer", "role: senior backend engineer", 1)+
			"\nsalary: 80-95k EUR\nVisa sponsorship available",
		confirm, "incomplete"))

	reply, err = f.service.RunTurn(context.Background(), "c1", "Salary is 80-95k EUR and we sponsor visas")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionIncomplete, reply.Decision)
	assert.Contains(t, reply.Message, confirm)

	stored := f.load(t, "c1")
	assert.Equal(t, confirm, stored.PendingPrompt)

	salary, ok := stored.Fields.Get("salary")
	require.True(t, ok)
	assert.Equal(t, "80-95k EUR", salary)
	assert.Contains(t, stored.Fields, conversation.Field{Value: "Visa sponsorship available"})

	for _, field := range conversation.ParseFields(fullIntake) {
		value, _ := stored.Fields.Get(field.Key)
		assert.Equal(t, field.Value, value, field.Key)
	}

	f.oracle.push(intakeAnswer(stored.Fields.Format(), "", "complete"))

	reply, err = f.service.RunTurn(context.Background(), "c1", "no, that's all")
	require.NoError(t, err)
	assert.Equal(t, workflow.DecisionComplete, reply.Decision)
	assert.Len(t, f.load(t, "c1").Fields, len(stored.Fields))
}
