package oracle

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"hirewire/app/service/workflow"
	"io"

	"github.com/samber/oops"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Node identifiers the oracle must echo in current_node.
const (
	NodeIntake        = "invoke_intent"
	NodeSpecification = "invoke_jd"
	NodeAssessment    = "invoke_questions"
)

// AssessmentSize is the fixed length of a screening question list.
const AssessmentSize = 10

type Schema struct {
	Name string
	Raw  []byte

	compiled *jsonschema.Schema
}

func (s *Schema) String() string {
	return string(s.Raw)
}

// Validate decodes raw with json.Number semantics and checks it against the schema.
// Trailing data after the document is a violation.
func (s *Schema) Validate(raw []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var doc any
	err := decoder.Decode(&doc)
	if err == nil && decoder.Decode(&struct{}{}) != io.EOF {
		err = errors.New("trailing data after JSON document")
	}
	if err != nil {
		return oops.In("oracle").
			Code("schema_violation").
			With("schema", s.Name).
			Errorf("%w: malformed JSON: %w", ErrSchemaViolation, err)
	}

	if err = s.compiled.Validate(doc); err != nil {
		return oops.In("oracle").
			Code("schema_violation").
			With("schema", s.Name).
			Errorf("%w: %w", ErrSchemaViolation, err)
	}

	return nil
}

var schemas = mustLoadSchemas(map[workflow.Phase]string{
	workflow.PhaseIntake:        "intake.json",
	workflow.PhaseSpecification: "specification.json",
	workflow.PhaseAssessment:    "assessment.json",
})

func SchemaFor(phase workflow.Phase) (*Schema, error) {
	schema, ok := schemas[phase]
	if !ok {
		return nil, oops.In("oracle").
			Code("routing_violation").
			With("phase", phase.String()).
			Errorf("%w: no output schema for phase %s", workflow.ErrRoutingViolation, phase)
	}
	return schema, nil
}

func mustLoadSchemas(files map[workflow.Phase]string) map[workflow.Phase]*Schema {
	result := make(map[workflow.Phase]*Schema, len(files))

	for phase, file := range files {
		raw, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			panic(fmt.Sprintf("read schema %s: %v", file, err))
		}

		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft7
		if err = compiler.AddResource(file, bytes.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", file, err))
		}

		compiled, err := compiler.Compile(file)
		if err != nil {
			panic(fmt.Sprintf("compile schema %s: %v", file, err))
		}

		result[phase] = &Schema{
			Name:     file,
			Raw:      raw,
			compiled: compiled,
		}
	}

	return result
}
