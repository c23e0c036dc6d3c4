package repo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"trustroom/internal/domain"
	"trustroom/internal/timeline"
)

// ErrMalformed marks a stored row that fails shape validation.
var ErrMalformed = errors.New("malformed trust case record")

const stepsSchema = `{
  "type": "array",
  "minItems": 6,
  "maxItems": 6,
  "items": {
    "type": "object",
    "required": ["step", "name", "done", "confirmed"],
    "properties": {
      "step": {"type": "integer", "minimum": 1, "maximum": 6},
      "name": {"type": "string"},
      "done": {"type": "boolean"},
      "confirmed": {"type": "boolean"},
      "date": {"type": ["string", "null"]},
      "note": {"type": ["string", "null"]},
      "confirmedAt": {"type": ["string", "null"]}
    }
  }
}`

var compiledSteps = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(stepsSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal steps schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("steps.json", doc); err != nil {
		return nil, fmt.Errorf("add steps schema: %w", err)
	}
	return c.Compile("steps.json")
})

// DecodeSteps validates the stored steps document and returns the step set.
func DecodeSteps(raw []byte) ([]domain.Step, error) {
	schema, err := compiledSteps()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: steps not json: %v", ErrMalformed, err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var steps []domain.Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := timeline.Validate(steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return steps, nil
}

// CheckCase validates the scalar columns of a decoded case.
func CheckCase(c domain.TrustCase) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case c.AgentID == "":
		return fmt.Errorf("%w: case %s missing agent_id", ErrMalformed, c.ID)
	case !c.Status.Valid():
		return fmt.Errorf("%w: case %s has unknown status %q", ErrMalformed, c.ID, c.Status)
	case c.CurrentStep < 1 || c.CurrentStep > domain.StepCount:
		return fmt.Errorf("%w: case %s current_step %d", ErrMalformed, c.ID, c.CurrentStep)
	}
	return nil
}
