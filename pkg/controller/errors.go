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
package controller

import (
	"errors"
	"fmt"
	"strings"
)

// Failure is an irrecoverable controller error: the pipeline could not
// produce any defaulted continuation. The request handler reacts by
// running the fallback pipeline exactly once.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("controller failed at %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// GroundingError reports prose that asserted evidence absent from the
// request's facts packet.
type GroundingError struct {
	Claims []string
}

func (g *GroundingError) Error() string {
	return fmt.Sprintf("explanation cites evidence not in facts packet: %s", strings.Join(g.Claims, ", "))
}

// IsGroundingViolation reports whether err is a grounding failure.
func IsGroundingViolation(err error) bool {
	var g *GroundingError
	return errors.As(err, &g)
}
