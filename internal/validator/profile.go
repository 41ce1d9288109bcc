// Package validator consumes data events, checks their payloads against
// cached validation profiles, and emits validation events back into the
// pipeline. Validation failure is a business outcome, not a system error:
// the pipeline is never stalled by bad data unless explicitly configured to
// block.
package validator

import (
	"fmt"

	"github.com/lodeworks/speedlayer/internal/event"
)

// Rule names. not_null and type violations are errors; min_length is a
// warning.
const (
	RuleNotNull   = "not_null"
	RuleType      = "type"
	RuleMinLength = "min_length"
)

// FieldRule is one constraint on one payload field.
type FieldRule struct {
	Field string
	Rule  string
	// Expected carries the rule parameter: a type name for RuleType, a
	// minimum length for RuleMinLength. Unused by RuleNotNull.
	Expected any
}

// Profile is the compiled rule set for one source.
type Profile struct {
	SourceID string
	Rules    []FieldRule
	// Strict marks the fallback profile used when no source config exists.
	Strict bool
}

// StrictDefaultProfile is applied when a source has no configuration.
// It requires the core ingest fields to be present and non-null.
func StrictDefaultProfile(sourceID string) *Profile {
	return &Profile{
		SourceID: sourceID,
		Strict:   true,
		Rules: []FieldRule{
			{Field: "url", Rule: RuleNotNull},
			{Field: "title", Rule: RuleNotNull},
		},
	}
}

// Result is the outcome of validating one payload.
type Result struct {
	Passed       bool
	QualityScore float64
	Errors       []event.Issue
	Warnings     []event.Issue
}

// Validate runs every rule against the payload. Errors block, warnings only
// lower the score: quality_score = max(0, 100 - 10*errors - 2*warnings).
func (p *Profile) Validate(payload map[string]any) Result {
	var errs, warns []event.Issue
	for _, rule := range p.Rules {
		issue, isError := rule.check(payload)
		if issue == nil {
			continue
		}
		if isError {
			errs = append(errs, *issue)
		} else {
			warns = append(warns, *issue)
		}
	}

	score := 100 - 10*float64(len(errs)) - 2*float64(len(warns))
	if score < 0 {
		score = 0
	}
	return Result{
		Passed:       len(errs) == 0,
		QualityScore: score,
		Errors:       errs,
		Warnings:     warns,
	}
}

// check returns the issue found, if any, and whether it is an error.
func (r FieldRule) check(payload map[string]any) (*event.Issue, bool) {
	value, present := payload[r.Field]

	switch r.Rule {
	case RuleNotNull:
		if !present || value == nil {
			return &event.Issue{
				Field:   r.Field,
				Rule:    RuleNotNull,
				Message: fmt.Sprintf("field %q must not be null", r.Field),
			}, true
		}
	case RuleType:
		if !present || value == nil {
			return nil, false
		}
		want, _ := r.Expected.(string)
		if !matchesType(value, want) {
			return &event.Issue{
				Field:   r.Field,
				Rule:    RuleType,
				Message: fmt.Sprintf("field %q must be of type %s", r.Field, want),
			}, true
		}
	case RuleMinLength:
		str, ok := value.(string)
		if !present || !ok {
			return nil, false
		}
		min := expectedInt(r.Expected)
		if len(str) < min {
			return &event.Issue{
				Field:   r.Field,
				Rule:    RuleMinLength,
				Message: fmt.Sprintf("field %q shorter than %d characters", r.Field, min),
			}, false
		}
	}
	return nil, false
}

func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

// expectedInt tolerates the int/float64 ambiguity of JSON-decoded config.
func expectedInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
