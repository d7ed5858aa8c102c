// Package mysql implements a MySQL backend for the Velox ORM dialect layer.
//
// The backend detects the connected server's version once at startup and
// derives an immutable set of feature flags from it. All SQL it renders and
// every value it converts respects those flags, so the same application code
// works against MySQL-family servers from 5.6 through 9.x.
//
// # Architecture
//
// The package is built from five cooperating parts:
//
//   - ServerVersion and CapabilitySet: the server version reported at
//     handshake is parsed once and mapped through a threshold table into an
//     immutable set of feature flags (native JSON, recursive CTEs, window
//     functions, full-text MATCH, savepoints, ...).
//   - Translator: pure functions that render abstract query fragments
//     (identifiers, upserts, pagination, JSON path predicates, full-text
//     predicates) into exact MySQL text, consulting the capability set.
//   - Converter: a bidirectional codec between application values and
//     their MySQL wire representations. Round trips are lossless except
//     where the dialect itself is lossy (sub-microsecond truncation on
//     temporal columns, documented per mapping).
//   - Pool: a bounded pool of pinned driver connections with an overflow
//     allowance, staleness validation, and acquire timeouts.
//   - Backend: the facade composing the above. It executes statements,
//     manages transactions and nested savepoints, and decodes result rows
//     using column metadata.
//
// # Capabilities
//
// Feature availability is derived from hard-coded version thresholds
// rather than probed from the server. Capabilities are additive and
// monotonic: a feature available at version V is assumed available at all
// later versions. Requesting a rendering that needs an absent capability
// fails with a CapabilityError naming the feature and the minimum server
// version that provides it, before any SQL reaches the server.
//
// # Transactions
//
// A transaction exclusively owns one pooled connection for its lifetime.
// Nested Begin calls create savepoints with deterministic names; commit
// and rollback at depth greater than one release or roll back to the
// innermost savepoint. Unrecoverable I/O errors inside an open transaction
// discard the connection and force the state machine back to idle.
//
// # Usage
//
//	cfg := mysql.DefaultConfig()
//	cfg.Host, cfg.User, cfg.Database = "db.internal", "app", "orders"
//	backend, err := mysql.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	res, err := backend.Execute(ctx,
//	    "SELECT `id`, `total` FROM `orders` WHERE `status` = ?",
//	    mysql.Bind(mysql.EnumType("pending", "paid", "shipped"), "paid"),
//	)
//
// The underlying wire protocol is provided by github.com/go-sql-driver/mysql;
// this package never frames packets itself.
package mysql
