package stage

import (
	"context"
	"log/slog"

	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
)

// Handler describes the contract the orchestration core needs from each stage.
// Implementations may do their work in-process or shell out to an external
// command; the coordinator does not care which.
type Handler interface {
	Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result

func (f HandlerFunc) Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
	return f(ctx, input, res)
}

// LoggerAware is implemented by handlers that accept a contextual logger
// before each invocation.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
