package correlation

import (
	"context"
	"encoding/json"
)

// MergeMeta merges ambient correlation identifiers into a JSON object,
// without overwriting any key the caller already set explicitly. An empty or
// nil input is treated as an empty object. Grounded on the source system's
// merge-if-missing behaviour for outbox/audit-log "meta_json" fields: the
// request id always ends up in meta, but a caller-supplied value always wins.
func MergeMeta(ctx context.Context, meta json.RawMessage) (json.RawMessage, error) {
	fields := map[string]any{}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &fields); err != nil {
			return nil, err
		}
	}

	if _, ok := fields["request_id"]; !ok {
		fields["request_id"] = RequestID(ctx)
	}

	if tp := TraceParent(ctx); tp != "" {
		if _, ok := fields["traceparent"]; !ok {
			fields["traceparent"] = tp
		}
	}

	return json.Marshal(fields)
}
