package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/bundle"
	"github.com/riverline-labs/tenor/pkg/migration"
	"github.com/riverline-labs/tenor/pkg/storage/memory"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func minimalBundle(t *testing.T, id, tenorVersion string) *bundle.Contract {
	t.Helper()
	raw := []byte(`{"kind":"Bundle","id":"` + id + `","tenor":"1.0","tenor_version":"` + tenorVersion + `","constructs":[]}`)
	loaded, err := bundle.Load(raw)
	require.NoError(t, err)
	return loaded.Contract
}

func TestVersionGateRejectsRegression(t *testing.T) {
	v1 := minimalBundle(t, "c-v1", "1.2.0")
	v2 := minimalBundle(t, "c-v2", "1.1.0")

	err := migration.CheckVersionGate(v1, v2)
	require.Error(t, err)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindVersionRegression, kind)
}

func TestVersionGateAcceptsEqualOrGreater(t *testing.T) {
	v1 := minimalBundle(t, "c-v1", "1.2.0")
	v2 := minimalBundle(t, "c-v2", "1.2.0")
	require.NoError(t, migration.CheckVersionGate(v1, v2))

	v3 := minimalBundle(t, "c-v3", "1.3.0")
	require.NoError(t, migration.CheckVersionGate(v1, v3))
}

func TestMigrationPlanAbortsEntirelyOnMismatch(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	sn, err := backend.BeginSnapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, backend.InitializeEntity(ctx, sn, "order", "o-1", "draft"))
	require.NoError(t, backend.InitializeEntity(ctx, sn, "order", "o-2", "submitted"))
	require.NoError(t, backend.CommitSnapshot(ctx, sn))

	plan := migration.Plan{
		V1ID: "c-v1",
		V2ID: "c-v2",
		Mappings: []migration.EntityStateMapping{
			{EntityID: "order", InstanceID: "o-1", FromState: "draft", ToState: "submitted"},
			// o-2 is actually "submitted", not "draft" — this mapping must fail
			// and roll back o-1's remap along with it.
			{EntityID: "order", InstanceID: "o-2", FromState: "draft", ToState: "closed"},
		},
	}

	err = migration.Execute(ctx, backend, plan)
	require.Error(t, err)

	st, err := backend.GetEntityState(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, "draft", st.State, "no entity should be migrated when any single mapping fails")
}

func TestMigrationPlanCommitsAllOnSuccess(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	sn, err := backend.BeginSnapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, backend.InitializeEntity(ctx, sn, "order", "o-1", "draft"))
	require.NoError(t, backend.InitializeEntity(ctx, sn, "order", "o-2", "draft"))
	require.NoError(t, backend.CommitSnapshot(ctx, sn))

	plan := migration.Plan{
		V1ID: "c-v1",
		V2ID: "c-v2",
		Mappings: []migration.EntityStateMapping{
			{EntityID: "order", InstanceID: "o-1", FromState: "draft", ToState: "submitted"},
			{EntityID: "order", InstanceID: "o-2", FromState: "draft", ToState: "submitted"},
		},
	}

	require.NoError(t, migration.Execute(ctx, backend, plan))

	st1, err := backend.GetEntityState(ctx, "order", "o-1")
	require.NoError(t, err)
	require.Equal(t, "submitted", st1.State)

	st2, err := backend.GetEntityState(ctx, "order", "o-2")
	require.NoError(t, err)
	require.Equal(t, "submitted", st2.State)
}
