package oracle

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"hirewire/app/config"
	"hirewire/app/service/workflow"
	"net/http"
	"strings"
	"time"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/prompts"
)

//go:embed prompts/*.txt
var promptFS embed.FS

const (
	defaultTemperature  = 0.2
	maxReasonDuration   = 60 * time.Second
	maxCompletionTokens = 4000
)

var _ Oracle = (*LLM)(nil)

// LLM is an Oracle backed by a langchaingo chat model.
type LLM struct {
	model       llms.Model
	templates   map[workflow.Phase]prompts.PromptTemplate
	temperature float64
	timeout     time.Duration
}

func New(di *do.Injector) (Oracle, error) {
	cfg := do.MustInvoke[*config.Config](di)

	model, err := openai.New(
		openai.WithToken(cfg.Oracle.Token),
		openai.WithBaseURL(cfg.Oracle.BaseURL),
		openai.WithModel(cfg.Oracle.Model),
		openai.WithHTTPClient(&http.Client{
			Timeout: cfg.Oracle.Timeout + 5*time.Second,
		}),
		openai.WithCallback(LogCallbackHandler{}),
	)
	if err != nil {
		return nil, oops.In("oracle").Errorf("failed to create openai client: %w", err)
	}

	return NewLLM(model, cfg.Oracle.Temperature, cfg.Oracle.Timeout)
}

func NewLLM(model llms.Model, temperature float64, timeout time.Duration) (*LLM, error) {
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	if timeout <= 0 {
		timeout = maxReasonDuration
	}

	templates, err := loadTemplates(map[workflow.Phase]string{
		workflow.PhaseIntake:        "intake.txt",
		workflow.PhaseSpecification: "specification.txt",
		workflow.PhaseAssessment:    "assessment.txt",
	})
	if err != nil {
		return nil, err
	}

	return &LLM{
		model:       model,
		templates:   templates,
		temperature: temperature,
		timeout:     timeout,
	}, nil
}

func (l *LLM) Invoke(ctx context.Context, req Request) (json.RawMessage, error) {
	template, ok := l.templates[req.Phase]
	if !ok || req.Schema == nil {
		return nil, oops.In("oracle").
			Code("routing_violation").
			With("phase", req.Phase.String()).
			Errorf("%w: no prompt for phase %s", workflow.ErrRoutingViolation, req.Phase)
	}

	values := make(map[string]any, len(template.InputVariables))
	for _, key := range template.InputVariables {
		values[key] = req.Context[key]
	}
	values["output_schema"] = req.Schema.String()

	prompt, err := template.Format(values)
	if err != nil {
		return nil, oops.In("oracle").
			With("phase", req.Phase.String()).
			Errorf("failed to render prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt,
		llms.WithTemperature(l.temperature),
		llms.WithMaxTokens(maxCompletionTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, unavailable(req.Phase, err)
	}

	result := cleanCompletion(completion)
	if result == "" {
		return nil, violation(req.Phase, errors.New("empty completion"))
	}

	return json.RawMessage(result), nil
}

// cleanCompletion strips the markdown fences some models wrap JSON in.
func cleanCompletion(completion string) string {
	result := strings.TrimSpace(completion)
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	return strings.TrimSpace(result)
}

func loadTemplates(files map[workflow.Phase]string) (map[workflow.Phase]prompts.PromptTemplate, error) {
	result := make(map[workflow.Phase]prompts.PromptTemplate, len(files))

	for phase, file := range files {
		text, err := promptFS.ReadFile("prompts/" + file)
		if err != nil {
			return nil, oops.In("oracle").Errorf("failed to read prompt %s: %w", file, err)
		}

		result[phase] = prompts.PromptTemplate{
			Template:       string(text),
			InputVariables: promptVariables[phase],
			TemplateFormat: prompts.TemplateFormatGoTemplate,
		}
	}

	return result, nil
}

var promptVariables = map[workflow.Phase][]string{
	workflow.PhaseIntake: {
		"mandatory_attributes", "next_missing_attribute", "output_schema",
		"collected_information", "previous_question", "user_input",
	},
	workflow.PhaseSpecification: {
		"output_schema", "collected_information", "previous_job_description", "user_input",
	},
	workflow.PhaseAssessment: {
		"output_schema", "job_description", "previous_questions", "user_input",
	},
}
