// Package ai implements the language-model backed engine: prompt
// construction, a provider-neutral completion client and strict parsing of
// the structured reply.
package ai

import "context"

// Prompt is a system+user message pair.
type Prompt struct {
	System string
	User   string
}

// Completer sends one prompt to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}
