// Package sqlbackend implements storage.Backend over database/sql, usable
// against either modernc.org/sqlite or github.com/lib/pq, grounded in the
// teacher's pkg/store/ledger.SQLLedger: a schema-as-constant, one query per
// operation, rows.Close()/rows.Err() idiom. A Snapshot here is a single
// *sql.Tx; optimistic concurrency on entity state is enforced by the
// UPDATE's WHERE version = $expected guard rather than a row lock.
package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/riverline-labs/tenor/pkg/storage"
	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS entity_states (
	entity_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	state TEXT NOT NULL,
	version INTEGER NOT NULL,
	flow_id TEXT,
	operation_id TEXT,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (entity_id, instance_id)
);

CREATE TABLE IF NOT EXISTS flow_executions (
	execution_id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	flow_id TEXT NOT NULL,
	persona TEXT NOT NULL,
	outcome TEXT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS operation_executions (
	operation_execution_id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	operation_id TEXT NOT NULL,
	persona TEXT NOT NULL,
	outcome TEXT,
	occurred_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_transitions (
	transition_id TEXT PRIMARY KEY,
	operation_execution_id TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	from_state TEXT,
	to_state TEXT NOT NULL,
	from_version INTEGER NOT NULL,
	to_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS provenance_records (
	provenance_id TEXT PRIMARY KEY,
	operation_execution_id TEXT NOT NULL,
	facts_used TEXT NOT NULL,
	verdicts_used TEXT NOT NULL
);
`

// Backend is the database/sql-backed storage.Backend.
type Backend struct {
	db *sql.DB
}

// New wraps an existing *sql.DB. The caller owns the driver selection
// (modernc.org/sqlite for embedded use, lib/pq for Postgres).
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Init creates the schema if it does not already exist.
func (b *Backend) Init(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

type snapshot struct {
	tx *sql.Tx
}

func (s *snapshot) ID() string { return uuid.NewString() }

func (b *Backend) BeginSnapshot(ctx context.Context) (storage.Snapshot, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, tenorerr.Wrap(tenorerr.KindStateMismatch, err, "failed to begin snapshot transaction")
	}
	return &snapshot{tx: tx}, nil
}

func txOf(s storage.Snapshot) (*sql.Tx, error) {
	sn, ok := s.(*snapshot)
	if !ok {
		return nil, tenorerr.New(tenorerr.KindStateMismatch, "snapshot was not created by this backend")
	}
	return sn.tx, nil
}

func (b *Backend) CommitSnapshot(_ context.Context, s storage.Snapshot) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return tenorerr.Wrap(tenorerr.KindStateMismatch, err, "commit failed")
	}
	return nil
}

func (b *Backend) AbortSnapshot(_ context.Context, s storage.Snapshot) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return tenorerr.Wrap(tenorerr.KindStateMismatch, err, "rollback failed")
	}
	return nil
}

func (b *Backend) InitializeEntity(ctx context.Context, s storage.Snapshot, entityID, instanceID, state string) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}

	var exists int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM entity_states WHERE entity_id = $1 AND instance_id = $2`, entityID, instanceID)
	if err := row.Scan(&exists); err == nil {
		return tenorerr.New(tenorerr.KindAlreadyInit, "entity %s instance %s is already initialized", entityID, instanceID).WithEntity(entityID, instanceID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entity_states (entity_id, instance_id, state, version, updated_at) VALUES ($1, $2, $3, 0, $4)`,
		entityID, instanceID, state, time.Now())
	return err
}

func (b *Backend) GetEntityStateForUpdate(ctx context.Context, s storage.Snapshot, entityID, instanceID string) (storage.EntityState, error) {
	tx, err := txOf(s)
	if err != nil {
		return storage.EntityState{}, err
	}
	return scanEntityState(tx.QueryRowContext(ctx,
		`SELECT entity_id, instance_id, state, version, flow_id, operation_id, updated_at
		 FROM entity_states WHERE entity_id = $1 AND instance_id = $2`, entityID, instanceID), entityID, instanceID)
}

func (b *Backend) UpdateEntityState(ctx context.Context, s storage.Snapshot, entityID, instanceID string, expectedVersion int64, newState, flowID, operationID string) (int64, error) {
	tx, err := txOf(s)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE entity_states SET state = $1, version = version + 1, flow_id = $2, operation_id = $3, updated_at = $4
		 WHERE entity_id = $5 AND instance_id = $6 AND version = $7`,
		newState, flowID, operationID, time.Now(), entityID, instanceID, expectedVersion)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, tenorerr.New(tenorerr.KindConcurrentConflict, "entity %s instance %s: version %d is stale", entityID, instanceID, expectedVersion).WithEntity(entityID, instanceID)
	}
	return expectedVersion + 1, nil
}

func (b *Backend) InsertFlowExecution(ctx context.Context, s storage.Snapshot, rec storage.FlowExecution) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO flow_executions (execution_id, contract_id, flow_id, persona, outcome, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ExecutionID, rec.ContractID, rec.FlowID, rec.Persona, rec.Outcome, rec.StartedAt, rec.FinishedAt)
	return err
}

func (b *Backend) InsertOperationExecution(ctx context.Context, s storage.Snapshot, rec storage.OperationExecution) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO operation_executions (operation_execution_id, execution_id, operation_id, persona, outcome, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.OperationExecutionID, rec.ExecutionID, rec.OperationID, rec.Persona, rec.Outcome, rec.OccurredAt)
	return err
}

func (b *Backend) InsertEntityTransition(ctx context.Context, s storage.Snapshot, rec storage.EntityTransition) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entity_transitions (transition_id, operation_execution_id, entity_id, instance_id, from_state, to_state, from_version, to_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.TransitionID, rec.OperationExecutionID, rec.EntityID, rec.InstanceID, rec.FromState, rec.ToState, rec.FromVersion, rec.ToVersion)
	return err
}

func (b *Backend) InsertProvenanceRecord(ctx context.Context, s storage.Snapshot, rec storage.ProvenanceRecord) error {
	tx, err := txOf(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO provenance_records (provenance_id, operation_execution_id, facts_used, verdicts_used)
		 VALUES ($1, $2, $3, $4)`,
		rec.ProvenanceID, rec.OperationExecutionID, joinCSV(rec.FactsUsed), joinCSV(rec.VerdictsUsed))
	return err
}

func (b *Backend) GetEntityState(ctx context.Context, entityID, instanceID string) (storage.EntityState, error) {
	return scanEntityState(b.db.QueryRowContext(ctx,
		`SELECT entity_id, instance_id, state, version, flow_id, operation_id, updated_at
		 FROM entity_states WHERE entity_id = $1 AND instance_id = $2`, entityID, instanceID), entityID, instanceID)
}

func scanEntityState(row *sql.Row, entityID, instanceID string) (storage.EntityState, error) {
	var st storage.EntityState
	var flowID, operationID sql.NullString
	err := row.Scan(&st.EntityID, &st.InstanceID, &st.State, &st.Version, &flowID, &operationID, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EntityState{}, tenorerr.New(tenorerr.KindEntityNotFound, "entity %s instance %s not found", entityID, instanceID).WithEntity(entityID, instanceID)
		}
		return storage.EntityState{}, err
	}
	st.FlowID, st.OperationID = flowID.String, operationID.String
	return st, nil
}

func (b *Backend) ListEntityStates(ctx context.Context, entityID string) ([]storage.EntityState, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT entity_id, instance_id, state, version, flow_id, operation_id, updated_at
		 FROM entity_states WHERE entity_id = $1`, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []storage.EntityState
	for rows.Next() {
		var st storage.EntityState
		var flowID, operationID sql.NullString
		if err := rows.Scan(&st.EntityID, &st.InstanceID, &st.State, &st.Version, &flowID, &operationID, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.FlowID, st.OperationID = flowID.String, operationID.String
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) GetFlowExecution(ctx context.Context, executionID string) (storage.FlowExecution, error) {
	var fe storage.FlowExecution
	var finishedAt sql.NullTime
	row := b.db.QueryRowContext(ctx,
		`SELECT execution_id, contract_id, flow_id, persona, outcome, started_at, finished_at
		 FROM flow_executions WHERE execution_id = $1`, executionID)
	if err := row.Scan(&fe.ExecutionID, &fe.ContractID, &fe.FlowID, &fe.Persona, &fe.Outcome, &fe.StartedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.FlowExecution{}, tenorerr.New(tenorerr.KindExecutionNotFound, "flow execution %q not found", executionID)
		}
		return storage.FlowExecution{}, err
	}
	fe.FinishedAt = finishedAt.Time
	return fe, nil
}

func (b *Backend) ListFlowExecutions(ctx context.Context, flowID string) ([]storage.FlowExecution, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT execution_id, contract_id, flow_id, persona, outcome, started_at, finished_at
		 FROM flow_executions WHERE flow_id = $1`, flowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []storage.FlowExecution
	for rows.Next() {
		var fe storage.FlowExecution
		var finishedAt sql.NullTime
		if err := rows.Scan(&fe.ExecutionID, &fe.ContractID, &fe.FlowID, &fe.Persona, &fe.Outcome, &fe.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		fe.FinishedAt = finishedAt.Time
		out = append(out, fe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) GetProvenance(ctx context.Context, operationExecutionID string) ([]storage.ProvenanceRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT provenance_id, operation_execution_id, facts_used, verdicts_used
		 FROM provenance_records WHERE operation_execution_id = $1`, operationExecutionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []storage.ProvenanceRecord
	for rows.Next() {
		var pr storage.ProvenanceRecord
		var facts, verdicts string
		if err := rows.Scan(&pr.ProvenanceID, &pr.OperationExecutionID, &facts, &verdicts); err != nil {
			return nil, err
		}
		pr.FactsUsed = splitCSV(facts)
		pr.VerdictsUsed = splitCSV(verdicts)
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
