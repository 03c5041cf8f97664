package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	gojsonschema "github.com/google/jsonschema-go/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaURL names the compiled schema resource.
const planSchemaURL = "ghmigrate://plan.schema.json"

// planSchema is the contract for plan.json, version 1.0. Apply re-validates
// against it on the resume path so a schema bump is caught at the boundary.
const planSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "run_id", "gitlab_project", "github_target", "summary", "actions", "validation"],
  "properties": {
    "version": {"type": "string", "const": "1.0"},
    "run_id": {"type": "string", "minLength": 1},
    "gitlab_project": {"type": "string"},
    "github_target": {"type": "string", "pattern": "^[^/]+/[^/]+$"},
    "generated_at": {"type": "string"},
    "summary": {
      "type": "object",
      "required": ["total", "by_type"],
      "properties": {
        "total": {"type": "integer", "minimum": 0},
        "by_type": {"type": "object", "additionalProperties": {"type": "integer"}},
        "est_minutes": {"type": "integer", "minimum": 0},
        "requires_user_input": {"type": "integer", "minimum": 0}
      }
    },
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "phase", "idempotency_key"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "type": {"type": "string", "minLength": 1},
          "component": {"type": "string"},
          "phase": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "parameters": {"type": "object"},
          "dependencies": {"type": "array", "items": {"type": "integer"}},
          "idempotency_key": {"type": "string", "minLength": 1},
          "dry_run_safe": {"type": "boolean"},
          "reversible": {"type": "boolean"},
          "estimated_duration_seconds": {"type": "integer", "minimum": 0},
          "requires_user_input": {"type": "boolean"},
          "skip_if": {"type": "string"}
        }
      }
    },
    "phases": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "actions", "order"],
        "properties": {
          "name": {"type": "string"},
          "description": {"type": "string"},
          "actions": {"type": "array", "items": {"type": "integer"}},
          "order": {"type": "integer", "minimum": 0},
          "parallel_safe": {"type": "boolean"}
        }
      }
    },
    "validation": {
      "type": "object",
      "required": ["all_deps_resolvable", "no_cycles", "required_inputs_identified"],
      "properties": {
        "all_deps_resolvable": {"type": "boolean"},
        "no_cycles": {"type": "boolean"},
        "required_inputs_identified": {"type": "boolean"}
      }
    },
    "user_inputs_required": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "key", "scope"],
        "properties": {
          "type": {"type": "string"},
          "key": {"type": "string"},
          "scope": {"type": "string"},
          "environment": {"type": "string"},
          "reason": {"type": "string"},
          "required": {"type": "boolean"},
          "fallback": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compiledPlanSchemaOnce sync.Once
	compiledPlanSchema     *jsonschema.Schema
	compiledPlanSchemaErr  error
)

// getCompiledPlanSchema compiles the embedded schema once and caches it.
func getCompiledPlanSchema() (*jsonschema.Schema, error) {
	compiledPlanSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(planSchema)))
		if err != nil {
			compiledPlanSchemaErr = fmt.Errorf("parsing plan schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(planSchemaURL, doc); err != nil {
			compiledPlanSchemaErr = fmt.Errorf("adding plan schema resource: %w", err)
			return
		}
		compiledPlanSchema, compiledPlanSchemaErr = compiler.Compile(planSchemaURL)
	})
	return compiledPlanSchema, compiledPlanSchemaErr
}

// ValidatePlanJSON checks plan JSON against the versioned schema.
func ValidatePlanJSON(data []byte) error {
	schema, err := getCompiledPlanSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing plan JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("plan schema validation: %w", err)
	}
	return nil
}

// GeneratedSchemaJSON derives a JSON Schema document from the Plan Go type,
// emitted alongside the plan so downstream tools can introspect the full
// field surface (the embedded contract schema stays the validation source).
func GeneratedSchemaJSON() ([]byte, error) {
	schema, err := gojsonschema.ForType(reflect.TypeOf(Plan{}), &gojsonschema.ForOptions{
		IgnoreInvalidTypes: true,
	})
	if err != nil {
		return nil, fmt.Errorf("generating plan schema: %w", err)
	}
	return json.MarshalIndent(schema, "", "  ")
}
