// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/inboxcopilot/pipeline/internal/genai"
)

// SchemaValidationError reports a response that did not match the
// template's schema or the result type's own Validate method.
type SchemaValidationError struct {
	Template string
	Path     string
	Reason   string
}

func (e *SchemaValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: invalid response: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("%s: invalid response at %s: %s", e.Template, e.Path, e.Reason)
}

// IsSchemaValidation reports whether err is a *SchemaValidationError.
func IsSchemaValidation(err error) bool {
	var sv *SchemaValidationError
	return errors.As(err, &sv)
}

// validator is implemented by result types with invariants beyond the
// schema, such as numeric ranges.
type validator interface {
	Validate() error
}

func decode[T any](tpl *Template[T], raw string) (T, error) {
	var out T
	body := extractJSON(raw)

	var generic any
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return out, &SchemaValidationError{Template: tpl.Name, Reason: "not JSON: " + err.Error()}
	}
	if tpl.Schema != nil {
		if path, reason := check("", generic, tpl.Schema); reason != "" {
			return out, &SchemaValidationError{Template: tpl.Name, Path: path, Reason: reason}
		}
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, &SchemaValidationError{Template: tpl.Name, Reason: err.Error()}
	}
	if v, ok := any(&out).(validator); ok {
		if err := v.Validate(); err != nil {
			return out, &SchemaValidationError{Template: tpl.Name, Reason: err.Error()}
		}
	}
	return out, nil
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return s
	}
	return s[start : end+1]
}

// check walks v against schema and returns the path and reason of the first
// mismatch, or an empty reason when v conforms.
func check(path string, v any, schema *genai.Schema) (string, string) {
	switch schema.Type {
	case genai.TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return path, "expected object"
		}
		for _, field := range schema.Required {
			if val, present := obj[field]; !present || val == nil {
				return join(path, field), "required field missing"
			}
		}
		for name, prop := range schema.Properties {
			val, present := obj[name]
			if !present || val == nil {
				continue
			}
			if p, reason := check(join(path, name), val, prop); reason != "" {
				return p, reason
			}
		}
	case genai.TypeArray:
		items, ok := v.([]any)
		if !ok {
			return path, "expected array"
		}
		if schema.Items != nil {
			for i, item := range items {
				if p, reason := check(fmt.Sprintf("%s[%d]", path, i), item, schema.Items); reason != "" {
					return p, reason
				}
			}
		}
	case genai.TypeString:
		s, ok := v.(string)
		if !ok {
			return path, "expected string"
		}
		if len(schema.Enum) > 0 && !slices.Contains(schema.Enum, s) {
			return path, fmt.Sprintf("%q not in %v", s, schema.Enum)
		}
	case genai.TypeNumber:
		if _, ok := v.(float64); !ok {
			return path, "expected number"
		}
	case genai.TypeInteger:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return path, "expected integer"
		}
	case genai.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return path, "expected boolean"
		}
	}
	return "", ""
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
