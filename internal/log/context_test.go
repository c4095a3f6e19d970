// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrips(t *testing.T) {
	ctx := context.Background()

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithPipelineID(ctx, "cam-entrance")
	ctx = ContextWithRunID(ctx, "brave-otter")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "cam-entrance", PipelineIDFromContext(ctx))
	assert.Equal(t, "brave-otter", RunIDFromContext(ctx))
}

func TestContextAccessorsNilSafe(t *testing.T) {
	//nolint:staticcheck // exercising nil-context tolerance on purpose
	assert.Empty(t, RequestIDFromContext(nil))
	//nolint:staticcheck
	assert.Empty(t, PipelineIDFromContext(nil))
	//nolint:staticcheck
	assert.Empty(t, RunIDFromContext(nil))

	ctx := ContextWithPipelineID(nil, "cam-0") //nolint:staticcheck
	assert.Equal(t, "cam-0", PipelineIDFromContext(ctx))
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithPipelineID(context.Background(), "cam-entrance")
	ctx = ContextWithRunID(ctx, "brave-otter")

	enriched := WithContext(ctx, logger)
	enriched.Info().Msg("frame processed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cam-entrance", entry[FieldPipelineID])
	assert.Equal(t, "brave-otter", entry[FieldRunID])
	assert.Equal(t, "frame processed", entry["message"])
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	out := WithContext(context.Background(), logger)
	out.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasPipeline := entry[FieldPipelineID]
	assert.False(t, hasPipeline)
}

func TestWithComponentFromContext(t *testing.T) {
	ctx := ContextWithPipelineID(context.Background(), "cam-dock")
	logger := WithComponentFromContext(ctx, "tracker")

	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tracker", entry[FieldComponent])
	assert.Equal(t, "cam-dock", entry[FieldPipelineID])
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.NotEqual(t, zerolog.Disabled, l.GetLevel())
}
