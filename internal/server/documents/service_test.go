package documents

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceWithMock(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, logging.Nop()), mock
}

func TestService_CreateWithKeyAppliesOnce(t *testing.T) {
	svc, mock := newServiceWithMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applied_mutations`).WithArgs("u1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("u1", "debts", "d1", `{"id":"d1","status":"active"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// replay: key already recorded, no document write
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applied_mutations`).WithArgs("u1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	doc := map[string]any{"id": "d1", "status": "active"}
	id, err := svc.Create(ctx, "u1", "debts", doc, "k1")
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	id, err = svc.Create(ctx, "u1", "debts", doc, "k1")
	require.NoError(t, err)
	assert.Equal(t, "d1", id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_CreateAssignsID(t *testing.T) {
	svc, mock := newServiceWithMock(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("u1", "users", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := svc.Create(context.Background(), "u1", "users", map[string]any{"name": "Asha"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestService_RollsBackOnFailure(t *testing.T) {
	svc, mock := newServiceWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO applied_mutations`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO documents`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := svc.Update(context.Background(), "u1", "debts", "d1", map[string]any{"remainingAmount": "500"}, "k2")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RejectsBadCollection(t *testing.T) {
	svc, _ := newServiceWithMock(t)

	_, err := svc.Create(context.Background(), "u1", "Robert'); DROP", map[string]any{}, "")
	assert.ErrorIs(t, err, common.ErrorValidation)

	err = svc.Update(context.Background(), "u1", "debts", "", map[string]any{}, "")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestService_QueryEncodesFilters(t *testing.T) {
	svc, mock := newServiceWithMock(t)

	mock.ExpectQuery(`data @> \$3::jsonb`).
		WithArgs("u1", "debts", `{"status":"active"}`).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"id":"d1","status":"active"}`))

	docs, err := svc.Query(context.Background(), "u1", "debts", map[string]any{"status": "active"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0]["id"])
}

func TestService_GetCorrupt(t *testing.T) {
	svc, mock := newServiceWithMock(t)

	mock.ExpectQuery(`SELECT data FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{not json`))

	_, err := svc.Get(context.Background(), "u1", "debts", "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt document")
}
