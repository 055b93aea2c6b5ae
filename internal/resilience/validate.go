// Package resilience wraps produced artifacts in a two-tier validation and
// bounded-retry loop: a zero-cost structural check first, then a model-backed
// critic review, with failure feedback folded into the next attempt.
package resilience

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"strings"
)

// Tier identifies which validation stage produced a result.
type Tier string

const (
	TierStructural Tier = "structural"
	TierSemantic   Tier = "semantic"
)

// Format selects the structural validator for an artifact.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatGo   Format = "go"
)

// ValidationResult is the outcome of one check within one attempt.
type ValidationResult struct {
	Passed     bool
	Tier       Tier
	Message    string
	Suggestion string
}

// ValidateStructure runs the format-only check for the given format. It is
// free, runs before any model-backed check, and is never skipped.
func ValidateStructure(artifact string, format Format) ValidationResult {
	switch format {
	case FormatJSON:
		return validateJSON(artifact)
	case FormatGo:
		return validateGoSource(artifact)
	default:
		return ValidationResult{Passed: true, Tier: TierStructural, Message: "no structural check for format"}
	}
}

func validateJSON(text string) ValidationResult {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return ValidationResult{
			Tier:       TierStructural,
			Message:    fmt.Sprintf("invalid JSON: %v", err),
			Suggestion: "Fix the JSON formatting",
		}
	}
	return ValidationResult{Passed: true, Tier: TierStructural, Message: "JSON is well-formed"}
}

// validateGoSource accepts either a full file or a bare snippet; snippets are
// wrapped in a function body before parsing, matching how the scratch
// environment evaluates them.
func validateGoSource(src string) ValidationResult {
	trimmed := strings.TrimSpace(src)
	candidate := trimmed
	if !strings.HasPrefix(trimmed, "package ") {
		candidate = "package main\nfunc _() {\n" + trimmed + "\n}"
	}
	if _, err := parser.ParseFile(token.NewFileSet(), "artifact.go", candidate, 0); err != nil {
		return ValidationResult{
			Tier:       TierStructural,
			Message:    fmt.Sprintf("Go source does not parse: %v", err),
			Suggestion: "Fix the syntax error",
		}
	}
	return ValidationResult{Passed: true, Tier: TierStructural, Message: "Go source parses"}
}
