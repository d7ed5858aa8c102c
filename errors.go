package mysql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Standard sentinel errors for common operations.
var (
	// ErrPoolExhausted is returned when a connection could not be acquired
	// within the configured timeout.
	ErrPoolExhausted = errors.New("mysql: connection pool exhausted")

	// ErrTxNotActive is returned when commit or rollback is requested
	// outside of a transaction.
	ErrTxNotActive = errors.New("mysql: no active transaction")

	// ErrClosed is returned when the backend is used after Close.
	ErrClosed = errors.New("mysql: backend is closed")
)

// ConnectionError represents a failure to establish or validate a server
// connection.
type ConnectionError struct {
	Addr string // host:port the connection was made to
	Err  error  // underlying driver error
}

// Error returns the error string.
func (e *ConnectionError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("mysql: connecting to %s: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("mysql: connection failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError returns a new ConnectionError for the given address.
func NewConnectionError(addr string, err error) *ConnectionError {
	return &ConnectionError{Addr: addr, Err: err}
}

// IsConnectionError returns true if the error is a ConnectionError.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConnectionError
	return errors.As(err, &e)
}

// PoolExhaustedError is returned when the pool reached its configured
// size plus overflow and no connection was released within the acquire
// timeout.
type PoolExhaustedError struct {
	Size     int // configured base pool size
	Overflow int // configured overflow allowance
}

// Error returns the error string.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("mysql: connection pool exhausted (size=%d overflow=%d)", e.Size, e.Overflow)
}

// Is reports whether the target error matches PoolExhaustedError.
// This allows errors.Is(err, ErrPoolExhausted) to return true.
func (e *PoolExhaustedError) Is(err error) bool {
	return err == ErrPoolExhausted
}

// NewPoolExhaustedError returns a new PoolExhaustedError.
func NewPoolExhaustedError(size, overflow int) *PoolExhaustedError {
	return &PoolExhaustedError{Size: size, Overflow: overflow}
}

// IsPoolExhausted returns true if the error is a PoolExhaustedError.
func IsPoolExhausted(err error) bool {
	if err == nil {
		return false
	}
	var e *PoolExhaustedError
	return errors.As(err, &e) || errors.Is(err, ErrPoolExhausted)
}

// CapabilityError is returned when a requested SQL construct needs a
// capability the connected server version does not provide. It is raised
// before any statement is sent to the server.
type CapabilityError struct {
	Capability Capability    // the missing capability
	MinVersion ServerVersion // the version that introduces it
	Version    ServerVersion // the connected server version
}

// Error returns the error string.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("mysql: %s requires server %s or later (connected to %s)",
		e.Capability, e.MinVersion, e.Version)
}

// NewCapabilityError returns a new CapabilityError for the capability
// missing from the given set.
func NewCapabilityError(c Capability, caps CapabilitySet) *CapabilityError {
	min, _ := MinVersionFor(c)
	return &CapabilityError{Capability: c, MinVersion: min, Version: caps.Version()}
}

// IsCapabilityError returns true if the error is a CapabilityError.
func IsCapabilityError(err error) bool {
	if err == nil {
		return false
	}
	var e *CapabilityError
	return errors.As(err, &e)
}

// TypeConversionError represents a value outside the domain of its
// declared column type. It is raised before the value reaches the wire.
type TypeConversionError struct {
	Kind   Kind   // the declared column kind
	Reason string // what about the value was rejected
	Err    error  // optional underlying error
}

// Error returns the error string.
func (e *TypeConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mysql: converting %s value: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("mysql: converting %s value: %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying error.
func (e *TypeConversionError) Unwrap() error {
	return e.Err
}

// NewTypeConversionError returns a new TypeConversionError.
func NewTypeConversionError(kind Kind, reason string) *TypeConversionError {
	return &TypeConversionError{Kind: kind, Reason: reason}
}

// IsTypeConversionError returns true if the error is a TypeConversionError.
func IsTypeConversionError(err error) bool {
	if err == nil {
		return false
	}
	var e *TypeConversionError
	return errors.As(err, &e)
}

// TranslateError represents a malformed translation request, such as a
// JSON path that does not start at the document root.
type TranslateError struct {
	Reason string
}

// Error returns the error string.
func (e *TranslateError) Error() string {
	return fmt.Sprintf("mysql: translate: %s", e.Reason)
}

// NewTranslateError returns a new TranslateError.
func NewTranslateError(reason string) *TranslateError {
	return &TranslateError{Reason: reason}
}

// IsTranslateError returns true if the error is a TranslateError.
func IsTranslateError(err error) bool {
	if err == nil {
		return false
	}
	var e *TranslateError
	return errors.As(err, &e)
}

// TransactionError represents a transaction control failure. When the
// failure is an I/O error the owning connection is discarded rather than
// returned to the pool.
type TransactionError struct {
	Op       string // "begin", "commit", "rollback", "savepoint", "release"
	Deadlock bool   // server reported a deadlock or lock wait timeout
	Err      error  // underlying error
}

// Error returns the error string.
func (e *TransactionError) Error() string {
	if e.Deadlock {
		return fmt.Sprintf("mysql: %s: deadlock detected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mysql: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NewTransactionError returns a new TransactionError for the given
// transaction operation.
func NewTransactionError(op string, err error) *TransactionError {
	return &TransactionError{Op: op, Deadlock: isDeadlockNumber(err), Err: err}
}

// IsTransactionError returns true if the error is a TransactionError.
func IsTransactionError(err error) bool {
	if err == nil {
		return false
	}
	var e *TransactionError
	return errors.As(err, &e)
}

// IsDeadlock returns true if the error is a TransactionError caused by a
// server-side deadlock or lock wait timeout. Such transactions are safe
// to retry from the top.
func IsDeadlock(err error) bool {
	var e *TransactionError
	return errors.As(err, &e) && e.Deadlock
}

// ConstraintError represents a server-side constraint violation
// (duplicate key, foreign key, CHECK).
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("mysql: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// QueryError wraps a server error returned while executing a statement.
type QueryError struct {
	Number   uint16 // server error number, 0 if not a server error
	SQLState string // five-character SQLSTATE, empty if unknown
	Err      error  // underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Number != 0 {
		return fmt.Sprintf("mysql: query failed (%d): %v", e.Number, e.Err)
	}
	return fmt.Sprintf("mysql: query failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// Server error numbers that classify into richer error types.
const (
	errDupEntry         = 1062
	errLockWaitTimeout  = 1205
	errLockDeadlock     = 1213
	errNoReferencedRow  = 1216
	errRowIsReferenced  = 1217
	errRowIsReferenced2 = 1451
	errNoReferencedRow2 = 1452
	errCheckViolated    = 3819
)

// isDeadlockNumber reports whether err carries a server error number that
// indicates a deadlock or lock wait timeout.
func isDeadlockNumber(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errLockDeadlock || me.Number == errLockWaitTimeout
}

// wrapServerError classifies a driver error into the error types above.
// Constraint violations become ConstraintError, deadlocks become
// TransactionError, and everything else with a server error number
// becomes QueryError. Non-server errors pass through unchanged.
func wrapServerError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case errDupEntry, errNoReferencedRow, errRowIsReferenced,
		errNoReferencedRow2, errRowIsReferenced2, errCheckViolated:
		return NewConstraintError(me.Message, err)
	case errLockDeadlock, errLockWaitTimeout:
		return &TransactionError{Op: "execute", Deadlock: true, Err: err}
	}
	return &QueryError{Number: me.Number, SQLState: string(me.SQLState[:]), Err: err}
}
