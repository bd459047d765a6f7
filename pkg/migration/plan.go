package migration

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/riverline-labs/tenor/pkg/storage"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

// EntityStateMapping is one instance's required (from, to) remap.
type EntityStateMapping struct {
	EntityID   string
	InstanceID string
	FromState  string
	ToState    string
}

// Plan is a MigrationPlan: the two bundle ids and the list of per-instance
// remaps it applies.
type Plan struct {
	V1ID     string
	V2ID     string
	Mappings []EntityStateMapping
}

// Execute applies every mapping under one storage snapshot. The first
// mapping whose current state does not match FromState aborts the whole
// snapshot — no entity is migrated on any single failure.
func Execute(ctx context.Context, backend storage.Backend, p Plan) error {
	sn, err := backend.BeginSnapshot(ctx)
	if err != nil {
		return err
	}

	for _, m := range p.Mappings {
		if err := applyMapping(ctx, backend, sn, p, m); err != nil {
			_ = backend.AbortSnapshot(ctx, sn)
			return err
		}
	}

	return backend.CommitSnapshot(ctx, sn)
}

func applyMapping(ctx context.Context, backend storage.Backend, sn storage.Snapshot, p Plan, m EntityStateMapping) error {
	current, err := backend.GetEntityStateForUpdate(ctx, sn, m.EntityID, m.InstanceID)
	if err != nil {
		return err
	}
	if current.State != m.FromState {
		return tenorerr.New(tenorerr.KindStateMismatch, "entity %s instance %s: expected state %q, found %q", m.EntityID, m.InstanceID, m.FromState, current.State).WithEntity(m.EntityID, m.InstanceID)
	}

	newVersion, err := backend.UpdateEntityState(ctx, sn, m.EntityID, m.InstanceID, current.Version, m.ToState, "migration", "migration")
	if err != nil {
		return err
	}

	opExecID := uuid.NewString()
	if err := backend.InsertOperationExecution(ctx, sn, storage.OperationExecution{
		OperationExecutionID: opExecID,
		ExecutionID:          "migration:" + p.V1ID + "->" + p.V2ID,
		OperationID:          "migration",
		Persona:              "migration",
		Outcome:              "migrated",
		OccurredAt:           time.Now(),
	}); err != nil {
		return err
	}

	if err := backend.InsertEntityTransition(ctx, sn, storage.EntityTransition{
		TransitionID:         uuid.NewString(),
		OperationExecutionID: opExecID,
		EntityID:             m.EntityID,
		InstanceID:           m.InstanceID,
		FromState:            m.FromState,
		ToState:              m.ToState,
		FromVersion:          current.Version,
		ToVersion:            newVersion,
	}); err != nil {
		return err
	}

	return backend.InsertProvenanceRecord(ctx, sn, storage.ProvenanceRecord{
		ProvenanceID:         uuid.NewString(),
		OperationExecutionID: opExecID,
		FactsUsed:            nil,
		VerdictsUsed:         nil,
	})
}
