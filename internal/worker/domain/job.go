package domain

import (
	"context"
	"encoding/json"
)

// HandlerFunc executes one job. The returned value is serialized into the
// job's result payload on success; a returned error marks the job failed.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)
