package interpret

import (
	"context"
	"log/slog"
)

// Backend is the capability the interpreter needs from the
// language-model collaborator. *Fallback satisfies it; tests inject
// stubs.
type Backend interface {
	Interpret(ctx context.Context, text string, deviceContext string) (*Action, error)
}

// Interpreter runs the full pipeline: pattern rules first, backend
// fallback on a miss. Stateless; safe to share across sessions.
type Interpreter struct {
	backend Backend
	logger  *slog.Logger
}

// New creates an interpreter over the given backend.
func New(backend Backend, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		backend: backend,
		logger:  logger.With("component", "interpreter"),
	}
}

// Interpret turns text into an action. Pattern misses fall through to
// the backend; backend failures surface as *Failure.
func (i *Interpreter) Interpret(ctx context.Context, text string, deviceContext string) (*Action, error) {
	if action, ok := Match(text); ok {
		i.logger.Debug("pattern match",
			"operation", action.Operation,
			"category", action.Category,
		)
		return action, nil
	}

	i.logger.Debug("no pattern match, deferring to backend")
	return i.backend.Interpret(ctx, text, deviceContext)
}
