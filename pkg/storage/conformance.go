package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// RunConformance exercises the section 4.7 guarantees common to every
// Backend implementation: snapshot isolation, optimistic concurrency on
// entity version, and append-only history. newBackend builds a fresh, empty
// Backend; memory and sqlbackend both register against this from their own
// _test.go files so the two implementations are held to one behavior.
func RunConformance(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("initialize then read", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-1", "draft"))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		st, err := b.GetEntityState(ctx, "order", "o-1")
		require.NoError(t, err)
		require.Equal(t, "draft", st.State)
		require.Equal(t, int64(0), st.Version)
	})

	t.Run("double initialize fails", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-1", "draft"))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		sn2, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		err = b.InitializeEntity(ctx, sn2, "order", "o-1", "draft")
		require.Error(t, err)
		kind, ok := tenorerr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, tenorerr.KindAlreadyInit, kind)
	})

	t.Run("writes inside an open snapshot are invisible outside it", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-2", "draft"))

		_, err = b.GetEntityState(ctx, "order", "o-2")
		require.Error(t, err)

		require.NoError(t, b.CommitSnapshot(ctx, sn))
		st, err := b.GetEntityState(ctx, "order", "o-2")
		require.NoError(t, err)
		require.Equal(t, "draft", st.State)
	})

	t.Run("abort discards all writes", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-3", "draft"))
		require.NoError(t, b.AbortSnapshot(ctx, sn))

		_, err = b.GetEntityState(ctx, "order", "o-3")
		require.Error(t, err)
	})

	t.Run("update advances version and is visible after commit", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-4", "draft"))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		sn2, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		cur, err := b.GetEntityStateForUpdate(ctx, sn2, "order", "o-4")
		require.NoError(t, err)
		newVersion, err := b.UpdateEntityState(ctx, sn2, "order", "o-4", cur.Version, "submitted", "fl-1", "op-1")
		require.NoError(t, err)
		require.Equal(t, int64(1), newVersion)
		require.NoError(t, b.CommitSnapshot(ctx, sn2))

		st, err := b.GetEntityState(ctx, "order", "o-4")
		require.NoError(t, err)
		require.Equal(t, "submitted", st.State)
		require.Equal(t, int64(1), st.Version)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-5", "draft"))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		sn2, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		_, err = b.UpdateEntityState(ctx, sn2, "order", "o-5", 99, "submitted", "fl-1", "op-1")
		require.Error(t, err)
		kind, ok := tenorerr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, tenorerr.KindConcurrentConflict, kind)
		require.NoError(t, b.AbortSnapshot(ctx, sn2))
	})

	t.Run("history inserts are append-only and queryable", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-6", "draft"))

		now := time.Now()
		require.NoError(t, b.InsertFlowExecution(ctx, sn, FlowExecution{
			ExecutionID: "fe-1", ContractID: "c-1", FlowID: "checkout", Persona: "buyer",
			Outcome: "completed", StartedAt: now, FinishedAt: now,
		}))
		require.NoError(t, b.InsertOperationExecution(ctx, sn, OperationExecution{
			OperationExecutionID: "oe-1", ExecutionID: "fe-1", OperationID: "submit",
			Persona: "buyer", Outcome: "ok", OccurredAt: now,
		}))
		require.NoError(t, b.InsertEntityTransition(ctx, sn, EntityTransition{
			TransitionID: "tr-1", OperationExecutionID: "oe-1", EntityID: "order", InstanceID: "o-6",
			FromState: "draft", ToState: "submitted", FromVersion: 0, ToVersion: 1,
		}))
		require.NoError(t, b.InsertProvenanceRecord(ctx, sn, ProvenanceRecord{
			ProvenanceID: "pr-1", OperationExecutionID: "oe-1",
			FactsUsed: []string{"fact.total"}, VerdictsUsed: []string{"verdict.approved"},
		}))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		fe, err := b.GetFlowExecution(ctx, "fe-1")
		require.NoError(t, err)
		require.Equal(t, "checkout", fe.FlowID)

		list, err := b.ListFlowExecutions(ctx, "checkout")
		require.NoError(t, err)
		require.Len(t, list, 1)

		prov, err := b.GetProvenance(ctx, "oe-1")
		require.NoError(t, err)
		require.Len(t, prov, 1)
		require.Equal(t, []string{"fact.total"}, prov[0].FactsUsed)
	})

	t.Run("unknown entity lookup fails with EntityNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.GetEntityState(ctx, "order", "missing")
		require.Error(t, err)
		kind, ok := tenorerr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, tenorerr.KindEntityNotFound, kind)
	})

	t.Run("unknown flow execution lookup fails with ExecutionNotFound", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.GetFlowExecution(ctx, "missing")
		require.Error(t, err)
		kind, ok := tenorerr.KindOf(err)
		require.True(t, ok)
		require.Equal(t, tenorerr.KindExecutionNotFound, kind)
	})

	t.Run("list entity states scopes by entity id", func(t *testing.T) {
		b := newBackend(t)
		sn, err := b.BeginSnapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-7", "draft"))
		require.NoError(t, b.InitializeEntity(ctx, sn, "order", "o-8", "draft"))
		require.NoError(t, b.InitializeEntity(ctx, sn, "invoice", "i-1", "open"))
		require.NoError(t, b.CommitSnapshot(ctx, sn))

		orders, err := b.ListEntityStates(ctx, "order")
		require.NoError(t, err)
		require.Len(t, orders, 2)

		invoices, err := b.ListEntityStates(ctx, "invoice")
		require.NoError(t, err)
		require.Len(t, invoices, 1)
	})
}
