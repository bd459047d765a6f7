package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/storage"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func TestMemoryBackendConformance(t *testing.T) {
	storage.RunConformance(t, func(t *testing.T) storage.Backend {
		return New()
	})
}

// Two snapshots both read version 0 and both stage an update before either
// commits. The first commit wins; the second must fail with
// ConcurrentConflict and leave the winner's state in place.
func TestRacingSnapshotsExactlyOneCommits(t *testing.T) {
	ctx := context.Background()
	b := New()

	sn, err := b.BeginSnapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-1", "draft"))
	require.NoError(t, b.CommitSnapshot(ctx, sn))

	sn1, err := b.BeginSnapshot(ctx)
	require.NoError(t, err)
	sn2, err := b.BeginSnapshot(ctx)
	require.NoError(t, err)

	cur1, err := b.GetEntityStateForUpdate(ctx, sn1, "order", "o-1")
	require.NoError(t, err)
	cur2, err := b.GetEntityStateForUpdate(ctx, sn2, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), cur1.Version)
	require.Equal(t, int64(0), cur2.Version)

	_, err = b.UpdateEntityState(ctx, sn1, "order", "o-1", cur1.Version, "submitted", "fl-1", "op-1")
	require.NoError(t, err)
	_, err = b.UpdateEntityState(ctx, sn2, "order", "o-1", cur2.Version, "cancelled", "fl-2", "op-2")
	require.NoError(t, err)

	require.NoError(t, b.CommitSnapshot(ctx, sn1))

	err = b.CommitSnapshot(ctx, sn2)
	require.Error(t, err)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindConcurrentConflict, kind)
	require.NoError(t, b.AbortSnapshot(ctx, sn2))

	st, err := b.GetEntityState(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, "submitted", st.State)
	require.Equal(t, int64(1), st.Version)
}

// A concurrent initialization of the same instance also resolves to a
// single winner at commit time.
func TestRacingInitializeExactlyOneCommits(t *testing.T) {
	ctx := context.Background()
	b := New()

	sn1, err := b.BeginSnapshot(ctx)
	require.NoError(t, err)
	sn2, err := b.BeginSnapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, b.InitializeEntity(ctx, sn1, "order", "o-1", "draft"))
	require.NoError(t, b.InitializeEntity(ctx, sn2, "order", "o-1", "draft"))

	require.NoError(t, b.CommitSnapshot(ctx, sn1))

	err = b.CommitSnapshot(ctx, sn2)
	require.Error(t, err)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindConcurrentConflict, kind)
}
