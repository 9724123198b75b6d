package sync

import (
	"context"
	"encoding/json"

	"github.com/taskly-app/taskly/internal/schema"
)

// Remote performs a direct call against the API with no offline fallback.
// *api.Client satisfies it.
type Remote interface {
	Do(ctx context.Context, method, endpoint string, body schema.Record) (json.RawMessage, error)
}
