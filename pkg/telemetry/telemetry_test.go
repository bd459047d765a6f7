package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/telemetry"
)

func TestDisabledProviderIsSafeNoop(t *testing.T) {
	ctx := context.Background()
	p, err := telemetry.New(ctx, telemetry.DefaultConfig())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		p.RecordRuleFired(ctx, "rule-1", 0)
		p.RecordVerdict(ctx, "active")
		p.RecordStep(ctx, "flow-1", "operation", time.Millisecond)
		p.RecordOCCConflict(ctx, "entity-1")
		p.RecordAdapterFetch(ctx, "source-1", true)

		spanCtx, span := p.StartSpan(ctx, "test-span", "contract-1", "flow-1", "snap-1")
		require.NotNil(t, spanCtx)
		span.End()

		require.NoError(t, p.Shutdown(ctx))
	})
}

func TestLoggerAttachesIdentifiers(t *testing.T) {
	ctx := context.Background()
	p, err := telemetry.New(ctx, telemetry.DefaultConfig())
	require.NoError(t, err)

	logger := p.Logger("contract-1", "flow-1", "snap-1")
	require.NotNil(t, logger)
}
