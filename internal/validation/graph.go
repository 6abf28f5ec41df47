// Package validation checks graphs at publish time, before a version is
// frozen. Structural shape is enforced with JSON Schema; everything the
// schema language cannot express (config decoding, reference integrity,
// reachability) is layered on top.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/formlane/formlane/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for execution graphs. Embedded as a
// constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://formlane.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes", "start_node_id"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "start_node_id": {
      "type": "string",
      "minLength": 1
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["input", "query", "write", "validate", "transform", "conditional", "output"]
        },
        "alias": { "type": "string" },
        "config": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// Issue is one validation finding, located by a JSON-pointer-ish path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Report is the outcome of validating a graph. Errors block publishing;
// warnings do not.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether the graph may be published.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Report) addError(path, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarning(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// GraphValidator validates graphs against the embedded JSON Schema plus
// semantic rules. Safe for concurrent use; the schema is compiled once.
type GraphValidator struct {
	graphSchema *jsonschema.Schema
}

// NewGraphValidator compiles the embedded graph schema.
func NewGraphValidator() (*GraphValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://formlane.dev/schemas/graph.json", doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile("https://formlane.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &GraphValidator{graphSchema: compiled}, nil
}

// Validate runs the schema and semantic layers. Semantic checks run even when
// the schema layer finds problems, so the builder UI can show everything at
// once.
func (v *GraphValidator) Validate(g *schema.Graph) (*Report, error) {
	report := &Report{}
	if g == nil {
		report.addError("/", "graph is nil")
		return report, nil
	}

	doc, err := toJSONValue(g)
	if err != nil {
		return nil, fmt.Errorf("serialize graph: %w", err)
	}
	if verr := v.graphSchema.Validate(doc); verr != nil {
		for _, violation := range collectViolations(verr) {
			report.Errors = append(report.Errors, violation)
		}
	}

	checkSemantics(g, report)
	return report, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(err error) []Issue {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Path: "/", Message: err.Error()}}
	}
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []Issue{{Path: loc, Message: verr.Error()}}
	}
	var issues []Issue
	for _, cause := range verr.Causes {
		issues = append(issues, collectViolations(cause)...)
	}
	return issues
}
