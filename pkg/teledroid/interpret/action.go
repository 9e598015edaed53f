// Package interpret turns free-form chat text into typed device
// actions. Deterministic pattern rules run first; a language-model
// fallback handles everything the rules miss.
package interpret

import "fmt"

// Action categories.
const (
	CategoryFile   = "file"
	CategorySystem = "system"
	CategoryTask   = "task"
	CategoryAI     = "ai"
)

// Action origins.
const (
	OriginDirect   = "direct"   // produced by a pattern rule
	OriginInferred = "inferred" // produced by the LLM fallback
)

// Action is the normalized result of interpretation. Immutable once
// produced.
type Action struct {
	Category   string            `json:"command_type"`
	Operation  string            `json:"action"`
	Parameters map[string]string `json:"parameters"`
	Origin     string            `json:"origin"`
}

// Failure reports that the fallback interpreter could not produce a
// valid action. It is a normal outcome, surfaced to the user as an
// error line, never as a panic.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("interpretation failed: %s", f.Reason)
}

// ValidationError reports a required action parameter missing for the
// resolved operation.
type ValidationError struct {
	Operation string
	Field     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("operation %q requires parameter %q", e.Operation, e.Field)
}
