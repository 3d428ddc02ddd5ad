package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/pivotcache-lab/pivotcache/internal/core/storage"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare(regexp.QuoteMeta(queryLookupEntry))
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertEntry))

	adapter, err := NewAdapterWithDB(db)
	require.NoError(t, err)
	return adapter, mock
}

func TestCacheAdapter_LookupHit(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(queryLookupEntry)).
		WithArgs("SALESTOTAL|WEST").
		WillReturnRows(sqlmock.NewRows([]string{"result", "result_is_null", "signature", "updated_at"}).
			AddRow("1234.5", false, "SALESTOTAL(west)", now))

	entry, err := adapter.Lookup(context.Background(), "SALESTOTAL|WEST")
	require.NoError(t, err)
	require.Equal(t, "SALESTOTAL|WEST", entry.Key)
	require.Equal(t, "1234.5", entry.Value)
	require.False(t, entry.Null)
	require.Equal(t, "SALESTOTAL(west)", entry.Signature)
	require.Equal(t, now, entry.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_LookupNullResult(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryLookupEntry)).
		WithArgs("SALESTOTAL|NOWHERE").
		WillReturnRows(sqlmock.NewRows([]string{"result", "result_is_null", "signature", "updated_at"}).
			AddRow(nil, true, "SALESTOTAL(nowhere)", time.Now()))

	entry, err := adapter.Lookup(context.Background(), "SALESTOTAL|NOWHERE")
	require.NoError(t, err)
	require.True(t, entry.Null)
	require.Empty(t, entry.Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_LookupMiss(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryLookupEntry)).
		WithArgs("SALESTOTAL|GONE").
		WillReturnRows(sqlmock.NewRows([]string{"result", "result_is_null", "signature", "updated_at"}))

	_, err := adapter.Lookup(context.Background(), "SALESTOTAL|GONE")
	require.ErrorIs(t, err, storage.ErrMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_Upsert(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(queryUpsertEntry)).
		WithArgs("SALESTOTAL|WEST", "1234.5", false, "SALESTOTAL(west)", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.Upsert(context.Background(), storage.Entry{
		Key:       "SALESTOTAL|WEST",
		Value:     "1234.5",
		Signature: "SALESTOTAL(west)",
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_UpsertDropsEmptyKey(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	// No Exec expected: the empty key never reaches the database.
	err := adapter.Upsert(context.Background(), storage.Entry{Key: "", Value: "x"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_UpsertBatch(t *testing.T) {
	adapter, mock := newMockAdapter(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertEntry))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertEntry)).
		WithArgs("F|A", "1", false, "F(a)", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertEntry)).
		WithArgs("F|B", "", true, "F(b)", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := adapter.UpsertBatch(context.Background(), []storage.Entry{
		{Key: "F|A", Value: "1", Signature: "F(a)", UpdatedAt: now},
		{Key: "", Value: "dropped", UpdatedAt: now},
		{Key: "F|B", Null: true, Signature: "F(b)", UpdatedAt: now},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_UpsertBatchEmptyIsNoOp(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	require.NoError(t, adapter.UpsertBatch(context.Background(), nil))
	require.NoError(t, adapter.UpsertBatch(context.Background(), []storage.Entry{{Key: ""}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheAdapter_Clear(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectExec(regexp.QuoteMeta(queryClearEntries)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	require.NoError(t, adapter.Clear(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
