package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"
)

// Tx is a server transaction pinned to one pooled connection. Nested
// Begin calls map onto savepoints named sp_1, sp_2, ... by depth, so an
// inner rollback undoes only the innermost scope. A Tx is not safe for
// concurrent use; it mirrors the single connection it owns.
type Tx struct {
	pool *Pool
	conn *PoolConn
	tr   *Translator
	log  *slog.Logger

	depth      int      // 1 for the outermost scope
	savepoints []string // LIFO, one per nested scope
	done       bool
}

// IsolationLevel selects the isolation level of the next transaction.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	IsolationReadCommitted   IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead  IsolationLevel = "REPEATABLE READ"
	IsolationSerializable    IsolationLevel = "SERIALIZABLE"
)

// TxOptions configures the outermost scope of a transaction. Nested
// scopes inherit; the server applies isolation per transaction.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// begin starts the outermost transaction scope on a freshly acquired
// connection. The connection is returned to the pool if the server
// rejects a statement.
func begin(ctx context.Context, pool *Pool, conn *PoolConn, tr *Translator, log *slog.Logger, opts TxOptions) (*Tx, error) {
	tx := &Tx{pool: pool, conn: conn, tr: tr, log: log}
	if opts.Isolation != IsolationDefault {
		// Applies to the next transaction only on this session.
		stmt := "SET TRANSACTION ISOLATION LEVEL " + string(opts.Isolation)
		if err := tx.exec(ctx, "begin", stmt); err != nil {
			tx.finish()
			return nil, err
		}
	}
	start := "START TRANSACTION"
	if opts.ReadOnly {
		start += " READ ONLY"
	}
	if err := tx.exec(ctx, "begin", start); err != nil {
		tx.finish()
		return nil, err
	}
	tx.depth = 1
	return tx, nil
}

// Begin opens a nested scope backed by a savepoint. The savepoint name
// encodes the depth, so scopes release and roll back in strict LIFO
// order.
func (tx *Tx) Begin(ctx context.Context) error {
	if tx.done {
		return ErrTxNotActive
	}
	if !tx.tr.Capabilities().Supports(CapSavepoints) {
		return NewCapabilityError(CapSavepoints, tx.tr.Capabilities())
	}
	name := fmt.Sprintf("sp_%d", tx.depth)
	if err := tx.exec(ctx, "savepoint", tx.tr.SavepointSQL("savepoint", name)); err != nil {
		return err
	}
	tx.depth++
	tx.savepoints = append(tx.savepoints, name)
	return nil
}

// Commit commits the current scope. For a nested scope this releases
// its savepoint, folding the inner work into the enclosing scope; for
// the outermost scope it commits on the server and returns the
// connection to the pool.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxNotActive
	}
	if tx.depth > 1 {
		name := tx.popSavepoint()
		if err := tx.exec(ctx, "release", tx.tr.SavepointSQL("release", name)); err != nil {
			return err
		}
		tx.depth--
		return nil
	}
	err := tx.exec(ctx, "commit", "COMMIT")
	tx.finish()
	return err
}

// Rollback rolls back the current scope. A nested scope rolls back to
// its savepoint and releases it; the outermost scope rolls back on the
// server and returns the connection to the pool.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return ErrTxNotActive
	}
	if tx.depth > 1 {
		name := tx.popSavepoint()
		if err := tx.exec(ctx, "rollback", tx.tr.SavepointSQL("rollback", name)); err != nil {
			return err
		}
		if err := tx.exec(ctx, "release", tx.tr.SavepointSQL("release", name)); err != nil {
			return err
		}
		tx.depth--
		return nil
	}
	err := tx.exec(ctx, "rollback", "ROLLBACK")
	tx.finish()
	return err
}

// Depth returns the current nesting depth; 0 once the transaction has
// committed or rolled back.
func (tx *Tx) Depth() int {
	if tx.done {
		return 0
	}
	return tx.depth
}

// ExecContext executes a statement within the transaction.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.done {
		return nil, ErrTxNotActive
	}
	res, err := tx.conn.ExecContext(ctx, query, args...)
	return res, tx.noteStatementErr(err)
}

// QueryContext runs a query within the transaction.
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx.done {
		return nil, ErrTxNotActive
	}
	rows, err := tx.conn.QueryContext(ctx, query, args...)
	return rows, tx.noteStatementErr(err)
}

// noteStatementErr applies the I/O-failure discipline to an error from a
// statement executed inside the transaction. A failure that is not a
// server error leaves the connection in an unknown state: it is flagged
// broken and the transaction finished. A server deadlock (1213) has
// already rolled the whole transaction back on the server, so the
// transaction finishes too; the connection itself is still usable and
// returns to the pool.
func (tx *Tx) noteStatementErr(err error) error {
	if err == nil || tx.done {
		return err
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		tx.log.Warn("statement failed inside transaction, discarding connection", "error", err)
		tx.conn.MarkBroken()
		tx.finish()
		if IsTransactionError(err) {
			return err
		}
		return NewTransactionError("execute", err)
	}
	if me.Number == errLockDeadlock {
		tx.finish()
	}
	return err
}

func (tx *Tx) popSavepoint() string {
	name := tx.savepoints[len(tx.savepoints)-1]
	tx.savepoints = tx.savepoints[:len(tx.savepoints)-1]
	return name
}

// exec runs a transaction control statement. Failures that are not
// server errors leave the connection in an unknown state, so it is
// flagged broken and the transaction is finished without further
// statements.
func (tx *Tx) exec(ctx context.Context, op, stmt string) error {
	_, err := tx.conn.conn.ExecContext(ctx, stmt)
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		tx.log.Warn("transaction control failed, discarding connection", "op", op, "error", err)
		tx.conn.MarkBroken()
		tx.finish()
	}
	return NewTransactionError(op, err)
}

// finish releases the connection back to the pool and marks the
// transaction done. Idempotent.
func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	tx.depth = 0
	tx.savepoints = nil
	tx.pool.Release(tx.conn)
}
