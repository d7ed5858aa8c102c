package mysql

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Bound pairs a value with its declared column type so Execute can run
// it through the converter before the statement leaves the process.
type Bound struct {
	Type  Type
	Value any
}

// Bind declares the column type of a statement argument. Arguments
// passed without Bind travel as-is.
func Bind(t Type, v any) Bound {
	return Bound{Type: t, Value: v}
}

// Result holds the outcome of an executed statement. Row-returning
// statements populate Columns and Rows; others populate LastInsertID
// and RowsAffected.
type Result struct {
	Columns      []string
	Rows         [][]any
	LastInsertID int64
	RowsAffected int64
}

// Backend is a capability-aware MySQL adapter: a connection pool, a
// dialect translator and a type converter configured for one detected
// server version. All methods are safe for concurrent use; transactions
// pin a connection and are single-caller.
type Backend struct {
	cfg     Config
	db      *sql.DB
	pool    *Pool
	conv    *Converter
	tr      *Translator
	caps    CapabilitySet
	version ServerVersion
	log     *slog.Logger
	rec     *recorder
}

// Open connects to the server described by cfg and detects its version
// and capabilities.
func Open(cfg Config, opts ...Option) (*Backend, error) {
	cfg.normalize()
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, NewConnectionError(cfg.Addr(), err)
	}
	b, err := OpenDB(db, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// OpenDB builds a Backend over an existing database handle. The handle's
// connection limits are adjusted to the pool bound.
func OpenDB(db *sql.DB, cfg Config, opts ...Option) (*Backend, error) {
	cfg.normalize()
	b := &Backend{
		cfg: cfg,
		db:  db,
		log: slog.Default(),
		rec: newRecorder(),
	}
	for _, opt := range opts {
		opt(b)
	}
	version, err := resolveVersion(db, cfg)
	if err != nil {
		return nil, err
	}
	b.version = version
	b.caps = DetectCapabilities(version)
	b.conv = NewConverter(b.caps)
	b.tr = NewTranslator(b.caps)
	b.pool = NewPool(db, cfg, b.log)
	b.log.Info("backend ready",
		"addr", cfg.Addr(),
		"server_version", version,
		"pool_size", cfg.PoolSize,
		"pool_overflow", cfg.PoolOverflow,
	)
	return b, nil
}

// resolveVersion uses the configured pin when present, otherwise asks
// the server. Distribution suffixes such as "-log" or "-MariaDB" are
// stripped before parsing.
func resolveVersion(db *sql.DB, cfg Config) (ServerVersion, error) {
	if cfg.ServerVersion != "" {
		return ParseServerVersion(cfg.ServerVersion)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	var raw string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		return ServerVersion{}, NewConnectionError(cfg.Addr(), err)
	}
	return ParseServerVersion(raw)
}

// ServerVersion returns the detected or pinned server version.
func (b *Backend) ServerVersion() ServerVersion {
	return b.version
}

// Capabilities returns the detected capability set.
func (b *Backend) Capabilities() CapabilitySet {
	return b.caps
}

// Translator returns the dialect translator bound to this backend's
// capability set.
func (b *Backend) Translator() *Translator {
	return b.tr
}

// Converter returns the type converter bound to this backend's
// capability set.
func (b *Backend) Converter() *Converter {
	return b.conv
}

// QueryStats returns the backend's execution statistics.
func (b *Backend) QueryStats() *QueryStats {
	return b.rec.stats
}

// Close shuts down the pool and the underlying database handle.
func (b *Backend) Close() error {
	b.pool.Close()
	return b.db.Close()
}

// Execute runs a single statement outside of any transaction, encoding
// Bound arguments first so domain errors surface before the statement
// reaches the server. Statements whose leading keyword returns rows are
// dispatched as queries; everything else as an exec.
func (b *Backend) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	encoded, err := b.encodeArgs(args)
	if err != nil {
		return nil, err
	}
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.pool.Release(conn)
	return b.run(ctx, conn, query, encoded)
}

// ExecuteTx runs a statement within the given transaction, with the
// same argument encoding as Execute.
func (b *Backend) ExecuteTx(ctx context.Context, tx *Tx, query string, args ...any) (*Result, error) {
	if tx == nil || tx.done {
		return nil, ErrTxNotActive
	}
	encoded, err := b.encodeArgs(args)
	if err != nil {
		return nil, err
	}
	res, err := b.run(ctx, tx.conn, query, encoded)
	return res, tx.noteStatementErr(err)
}

func (b *Backend) run(ctx context.Context, conn *PoolConn, query string, args []any) (*Result, error) {
	isQuery := returnsRows(query)
	start := time.Now()
	var (
		res *Result
		err error
	)
	if isQuery {
		res, err = b.query(ctx, conn, query, args)
	} else {
		res, err = b.exec(ctx, conn, query, args)
	}
	b.rec.record(ctx, query, args, start, err, isQuery)
	return res, err
}

func (b *Backend) query(ctx context.Context, conn *PoolConn, query string, args []any) (*Result, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapServerError(err)
	}
	return res, nil
}

func (b *Backend) exec(ctx context.Context, conn *PoolConn, query string, args []any) (*Result, error) {
	sr, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	// Both are advisory; some statements report neither.
	if id, err := sr.LastInsertId(); err == nil {
		res.LastInsertID = id
	}
	if n, err := sr.RowsAffected(); err == nil {
		res.RowsAffected = n
	}
	return res, nil
}

// DecodeRow converts one raw result row according to the given column
// types, which must match the row's width.
func (b *Backend) DecodeRow(types []Type, row []any) ([]any, error) {
	if len(types) != len(row) {
		return nil, NewTypeConversionError(KindInvalid, "column type count does not match row width")
	}
	out := make([]any, len(row))
	for i, t := range types {
		v, err := b.conv.Decode(t, row[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *Backend) encodeArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		if bound, ok := a.(Bound); ok {
			v, err := b.conv.Encode(bound.Type, bound.Value)
			if err != nil {
				return nil, err
			}
			out[i] = v
			continue
		}
		out[i] = a
	}
	return out, nil
}

// Begin acquires a connection from the pool and opens a transaction on
// it. The connection stays pinned to the returned Tx until its
// outermost scope commits or rolls back.
func (b *Backend) Begin(ctx context.Context) (*Tx, error) {
	return b.BeginTx(ctx, TxOptions{})
}

// BeginTx is Begin with an isolation level and read-only mode for the
// outermost scope.
func (b *Backend) BeginTx(ctx context.Context, opts TxOptions) (*Tx, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return begin(ctx, b.pool, conn, b.tr, b.log, opts)
}

// RunInTx runs fn inside a transaction, committing on success and
// rolling back on error or panic. The error from fn wins over a
// secondary rollback failure.
func (b *Backend) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			tx.Rollback(ctx)
			panic(v)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(ctx); rerr != nil {
			b.log.Warn("rollback failed", "error", rerr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// queryKeywords are the leading keywords of row-returning statements.
var queryKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"WITH":     true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
	"DESC":     true,
	"TABLE":    true,
	"VALUES":   true,
}

// returnsRows sniffs the statement's leading keyword.
func returnsRows(query string) bool {
	s := strings.TrimSpace(query)
	// Skip leading /* ... */ comments.
	for strings.HasPrefix(s, "/*") {
		end := strings.Index(s, "*/")
		if end < 0 {
			break
		}
		s = strings.TrimSpace(s[end+2:])
	}
	// A parenthesized first branch of a UNION still returns rows.
	s = strings.TrimLeft(s, "( \t\n\r")
	i := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	word := s
	if i >= 0 {
		word = s[:i]
	}
	return queryKeywords[strings.ToUpper(word)]
}
