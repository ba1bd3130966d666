// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package inference

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DecodeStructured validates raw against schema and unmarshals it into
// out. Models sometimes wrap JSON in a markdown fence, which is
// stripped before validation; any deeper deviation from the schema is a
// *MalformedOutputError and the payload is never coerced.
func DecodeStructured(stage Stage, raw string, schema json.RawMessage, out any) error {
	payload := stripFence(raw)

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewStringLoader(payload))
	if err != nil {
		return &MalformedOutputError{Stage: stage, Raw: raw, Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &MalformedOutputError{Stage: stage, Raw: raw, Problems: problems}
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return &MalformedOutputError{Stage: stage, Raw: raw, Problems: []string{err.Error()}}
	}
	return nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
