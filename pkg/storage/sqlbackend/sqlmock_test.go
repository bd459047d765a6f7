package sqlbackend

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func TestUpdateEntityState_StaleVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	b := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE entity_states").
		WillReturnResult(sqlmock.NewResult(0, 0))

	snap, err := b.BeginSnapshot(ctx)
	if err != nil {
		t.Fatalf("begin snapshot: %v", err)
	}

	_, err = b.UpdateEntityState(ctx, snap, "order", "ord-1", 3, "approved", "flow-1", "op-1")
	if kind, ok := tenorerr.KindOf(err); !ok || kind != tenorerr.KindConcurrentConflict {
		t.Errorf("expected ConcurrentConflict for a stale version, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestInitializeEntity_AlreadyInitialized(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	b := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM entity_states").
		WithArgs("order", "ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	snap, err := b.BeginSnapshot(ctx)
	if err != nil {
		t.Fatalf("begin snapshot: %v", err)
	}

	err = b.InitializeEntity(ctx, snap, "order", "ord-1", "draft")
	if kind, ok := tenorerr.KindOf(err); !ok || kind != tenorerr.KindAlreadyInit {
		t.Errorf("expected AlreadyInitialized for an existing instance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}

func TestGetEntityState_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	b := New(db)

	mock.ExpectQuery("SELECT (.+) FROM entity_states").
		WithArgs("order", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "instance_id", "state", "version", "flow_id", "operation_id", "updated_at"}))

	_, err = b.GetEntityState(context.Background(), "order", "missing")
	if kind, ok := tenorerr.KindOf(err); !ok || kind != tenorerr.KindEntityNotFound {
		t.Errorf("expected EntityNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
