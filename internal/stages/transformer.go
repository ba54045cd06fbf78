package stages

import (
	"context"
	"log/slog"

	"telepipe/internal/logging"
	"telepipe/internal/pipeline"
	"telepipe/internal/resources"
	"telepipe/internal/services"
	"telepipe/internal/warehouse"
)

// Transformer rebuilds the analytical fct_messages table from the raw
// message documents. The whole rebuild runs in one transaction, so a failed
// transform leaves the previous facts intact.
type Transformer struct {
	store  *warehouse.Store
	logger *slog.Logger
}

// NewTransformer builds the transform stage over the given warehouse.
func NewTransformer(store *warehouse.Store) *Transformer {
	return &Transformer{store: store, logger: logging.NewNop()}
}

// SetLogger implements stage.LoggerAware.
func (t *Transformer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

func (t *Transformer) Run(ctx context.Context, input pipeline.Payload, res resources.Bundle) pipeline.Result {
	count, err := t.store.RebuildFactMessages(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.Failure(ctx.Err())
		}
		return pipeline.Failure(services.Wrap(services.ErrTransient, "transform", "rebuild facts", err.Error(), err))
	}

	t.logger.Info("fact table rebuilt", logging.Int("fact_messages", count))
	return pipeline.Success(map[string]any{"fact_messages": count})
}
