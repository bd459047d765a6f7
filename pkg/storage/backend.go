// Package storage implements the five-table storage contract of section
// 4.7: snapshot isolation with optimistic concurrency control on entity
// version, backed by either an in-memory reference implementation or
// database/sql.
package storage

import (
	"context"
	"time"
)

// EntityState is the current (state, version) of one entity instance.
type EntityState struct {
	EntityID   string
	InstanceID string
	State      string
	Version    int64
	FlowID     string
	OperationID string
	UpdatedAt  time.Time
}

// FlowExecution is one immutable, append-once flow run record.
type FlowExecution struct {
	ExecutionID string
	ContractID  string
	FlowID      string
	Persona     string
	Outcome     string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// OperationExecution is one append-once operation invocation within a
// flow execution.
type OperationExecution struct {
	OperationExecutionID string
	ExecutionID          string
	OperationID          string
	Persona              string
	Outcome              string
	OccurredAt           time.Time
}

// EntityTransition is one append-once (from, to) transition tied to an
// operation execution.
type EntityTransition struct {
	TransitionID         string
	OperationExecutionID string
	EntityID             string
	InstanceID           string
	FromState            string
	ToState              string
	FromVersion          int64
	ToVersion            int64
}

// ProvenanceRecord is one append-once capture of the facts/verdicts used
// at the moment an effect was applied.
type ProvenanceRecord struct {
	ProvenanceID         string
	OperationExecutionID string
	FactsUsed            []string
	VerdictsUsed         []string
}

// Snapshot is an open unit of work: reads and writes made through it are
// invisible outside it until Commit.
type Snapshot interface {
	ID() string
}

// Backend is the storage contract of section 4.7. Every write operation
// other than entity-state update is append-only; entity state is
// overwrite-by-version under optimistic concurrency control.
type Backend interface {
	BeginSnapshot(ctx context.Context) (Snapshot, error)
	CommitSnapshot(ctx context.Context, s Snapshot) error
	AbortSnapshot(ctx context.Context, s Snapshot) error

	InitializeEntity(ctx context.Context, s Snapshot, entityID, instanceID, state string) error
	GetEntityStateForUpdate(ctx context.Context, s Snapshot, entityID, instanceID string) (EntityState, error)
	UpdateEntityState(ctx context.Context, s Snapshot, entityID, instanceID string, expectedVersion int64, newState, flowID, operationID string) (int64, error)

	InsertFlowExecution(ctx context.Context, s Snapshot, rec FlowExecution) error
	InsertOperationExecution(ctx context.Context, s Snapshot, rec OperationExecution) error
	InsertEntityTransition(ctx context.Context, s Snapshot, rec EntityTransition) error
	InsertProvenanceRecord(ctx context.Context, s Snapshot, rec ProvenanceRecord) error

	GetEntityState(ctx context.Context, entityID, instanceID string) (EntityState, error)
	ListEntityStates(ctx context.Context, entityID string) ([]EntityState, error)
	GetFlowExecution(ctx context.Context, executionID string) (FlowExecution, error)
	ListFlowExecutions(ctx context.Context, flowID string) ([]FlowExecution, error)
	GetProvenance(ctx context.Context, operationExecutionID string) ([]ProvenanceRecord, error)
}
