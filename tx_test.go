package mysql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, version string) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := poolTestConfig()
	cfg.ServerVersion = version
	b, err := OpenDB(db, cfg)
	require.NoError(t, err)
	return b, mock
}

func TestTxCommit(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Depth())

	_, err = tx.ExecContext(ctx, "INSERT INTO users (name) VALUES (?)", "ada")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 0, tx.Depth())

	// The pinned connection went back to the pool.
	assert.Equal(t, 1, b.pool.IdleCount())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxNestedScopes(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", 1)
	require.NoError(t, err)

	// Inner scope: its insert is undone, the outer one survives.
	require.NoError(t, tx.Begin(ctx))
	assert.Equal(t, 2, tx.Depth())
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", 2)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, 1, tx.Depth())

	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", 3)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxNestedCommitReleasesSavepoint(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Begin(ctx))
	require.NoError(t, tx.Begin(ctx))
	assert.Equal(t, 3, tx.Depth())

	// Savepoints release in LIFO order.
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 0, tx.Depth())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxNestingNeedsSavepoints(t *testing.T) {
	b, mock := newTestBackend(t, "5.0.0")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	err = tx.Begin(ctx)
	require.True(t, IsCapabilityError(err))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxControlAfterFinish(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxNotActive)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxNotActive)
	_, err = tx.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrTxNotActive)
}

func TestTxIOFailureDiscardsConnection(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnError(errors.New("broken pipe"))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	err = tx.Commit(ctx)
	require.True(t, IsTransactionError(err))
	assert.False(t, IsDeadlock(err))

	// The connection's state is unknown; it was discarded, not pooled.
	assert.Equal(t, 0, b.pool.IdleCount())
	assert.Equal(t, 0, tx.Depth())
}

func TestTxStatementIOFailureDiscardsConnection(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t").WillReturnError(errors.New("write tcp: broken pipe"))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", 1)
	require.True(t, IsTransactionError(err))
	assert.False(t, IsDeadlock(err))

	// The connection's state is unknown; the transaction is over and
	// the connection was discarded, not pooled.
	assert.Equal(t, 0, tx.Depth())
	assert.True(t, tx.conn.Broken())
	assert.Equal(t, 0, b.pool.IdleCount())

	_, err = tx.ExecContext(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrTxNotActive)
}

func TestTxStatementQueryIOFailureDiscardsConnection(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT v FROM t").WillReturnError(errors.New("read tcp: connection reset"))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.QueryContext(ctx, "SELECT v FROM t WHERE id = ?", 1)
	require.True(t, IsTransactionError(err))
	assert.Equal(t, 0, tx.Depth())
	assert.Equal(t, 0, b.pool.IdleCount())
}

func TestTxStatementDeadlockFinishesTransaction(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE t").
		WillReturnError(&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "UPDATE t SET v = v + 1 WHERE id = ?", 1)
	require.True(t, IsDeadlock(err))

	// The server rolled the whole transaction back; the connection is
	// still healthy and returns to the pool.
	assert.Equal(t, 0, tx.Depth())
	assert.Equal(t, 1, b.pool.IdleCount())
}

func TestTxStatementLockWaitTimeoutKeepsTransactionOpen(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE t").
		WillReturnError(&mysqldrv.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "UPDATE t SET v = v + 1 WHERE id = ?", 1)
	require.True(t, IsDeadlock(err))

	// Unlike a deadlock, a lock wait timeout only rolls back the
	// statement; the transaction stays open for the caller to decide.
	assert.Equal(t, 1, tx.Depth())
	require.NoError(t, tx.Rollback(ctx))
}

func TestExecuteTxIOFailureDiscardsConnection(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO t").WillReturnError(errors.New("write tcp: broken pipe"))

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	_, err = b.ExecuteTx(ctx, tx, "INSERT INTO t (v) VALUES (?)", 1)
	require.True(t, IsTransactionError(err))
	assert.Equal(t, 0, tx.Depth())
	assert.Equal(t, 0, b.pool.IdleCount())
}

func TestTxDeadlockClassification(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").
		WillReturnError(&mysqldrv.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})

	tx, err := b.Begin(ctx)
	require.NoError(t, err)
	err = tx.Commit(ctx)
	require.True(t, IsTransactionError(err))
	assert.True(t, IsDeadlock(err))

	// Server errors keep the connection usable; it went back to the pool.
	assert.Equal(t, 1, b.pool.IdleCount())
}

func TestBeginTxIsolation(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("SET TRANSACTION ISOLATION LEVEL SERIALIZABLE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("START TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := b.BeginTx(ctx, TxOptions{Isolation: IsolationSerializable, ReadOnly: true})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))

	err := b.RunInTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE accounts SET balance = balance - ? WHERE id = ?", 10, 1)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	b, mock := newTestBackend(t, "8.0.32")
	ctx := context.Background()

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK").WillReturnResult(sqlmock.NewResult(0, 0))

	boom := errors.New("boom")
	err := b.RunInTx(ctx, func(tx *Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
