package coursegen

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// courseSchema is the fixed response shape. Whether an answer appears in
// its options is not checked here.
const courseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "description", "lessons", "questions"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "lessons": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "content"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "content": {"type": "string"},
          "quiz": {"type": "array", "items": {"$ref": "#/definitions/item"}}
        }
      }
    },
    "questions": {
      "type": "array",
      "items": {
        "allOf": [
          {"$ref": "#/definitions/item"},
          {
            "type": "object",
            "required": ["difficulty"],
            "properties": {"difficulty": {"enum": ["Beginner", "Intermediate", "Expert"]}}
          }
        ]
      }
    },
    "essays": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["prompt"],
        "properties": {
          "prompt": {"type": "string", "minLength": 1},
          "rubric": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "item": {
      "type": "object",
      "required": ["stem", "options", "answer"],
      "properties": {
        "stem": {"type": "string", "minLength": 1},
        "options": {"type": "array", "minItems": 4, "maxItems": 4, "items": {"type": "string"}},
        "answer": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var courseSchemaLoader = gojsonschema.NewStringLoader(courseSchema)

// validateShape returns the schema violations in body, if any.
func validateShape(body string) ([]string, error) {
	result, err := gojsonschema.Validate(courseSchemaLoader, gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("validate response: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
