package correlation_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qhse-systems/qhse-outbox/internal/correlation"
)

func TestMergeMeta_InjectsMissingRequestID(t *testing.T) {
	ctx := correlation.WithRequestID(context.Background(), "req-abc")

	merged, err := correlation.MergeMeta(ctx, nil)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(merged, &fields))
	assert.Equal(t, "req-abc", fields["request_id"])
}

func TestMergeMeta_DoesNotOverwriteExplicitRequestID(t *testing.T) {
	ctx := correlation.WithRequestID(context.Background(), "req-ambient")

	input, err := json.Marshal(map[string]any{"request_id": "req-explicit"})
	require.NoError(t, err)

	merged, err := correlation.MergeMeta(ctx, input)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(merged, &fields))
	assert.Equal(t, "req-explicit", fields["request_id"])
}

func TestMergeMeta_IncludesTraceParentWhenPresent(t *testing.T) {
	ctx := correlation.WithRequestID(context.Background(), "req-1")
	ctx = correlation.WithTraceParent(ctx, "00-abc-def-01")

	merged, err := correlation.MergeMeta(ctx, nil)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(merged, &fields))
	assert.Equal(t, "00-abc-def-01", fields["traceparent"])
}
