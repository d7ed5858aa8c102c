package mysql

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// limitAll is the documented idiom for OFFSET without LIMIT: the server
// has no offset-only form, so the row count is pinned to the maximum
// unsigned 64-bit value.
const limitAll = "18446744073709551615"

// Fragment is a rendered SQL fragment. Params is the number of `?`
// placeholders the fragment expects, in left-to-right order.
type Fragment struct {
	SQL    string
	Params int
}

// Translator renders dialect-specific SQL fragments for a fixed
// capability set. Rendering is deterministic: the same request against
// the same capability set always yields byte-identical SQL, which makes
// fragments safe to cache and to diff in tests.
type Translator struct {
	caps  CapabilitySet
	cache sync.Map // uint64 -> Fragment
}

// NewTranslator returns a Translator for the given capability set.
func NewTranslator(caps CapabilitySet) *Translator {
	return &Translator{caps: caps}
}

// Capabilities returns the capability set the translator renders for.
func (tr *Translator) Capabilities() CapabilitySet {
	return tr.caps
}

// QuoteIdentifier quotes a single identifier with backticks, doubling
// embedded backticks.
func (tr *Translator) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteQualified quotes a dotted identifier part by part, so that
// "db.tbl" renders as `db`.`tbl`.
func (tr *Translator) QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = tr.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// Placeholders returns n comma-separated `?` markers.
func (tr *Translator) Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(3 * n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	return b.String()
}

// LimitOffset renders the LIMIT clause. hasLimit false with a non-zero
// offset uses the maximum-row-count idiom, since the server has no
// standalone OFFSET. Both absent renders the empty string.
func (tr *Translator) LimitOffset(hasLimit bool, limit, offset uint64) string {
	switch {
	case hasLimit && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case hasLimit:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT %s OFFSET %d", limitAll, offset)
	}
	return ""
}

// UpsertRequest describes an INSERT ... ON DUPLICATE KEY UPDATE
// statement. Columns lists the inserted columns in order; Update lists
// the subset reassigned on key collision. An empty Update reassigns
// every inserted column.
type UpsertRequest struct {
	Table   string   `msgpack:"table"`
	Columns []string `msgpack:"columns"`
	Update  []string `msgpack:"update"`
}

// Upsert renders an upsert statement with one placeholder per column.
// On servers with the row-alias capability the update clause references
// the alias `new`; older servers get the VALUES() function form.
func (tr *Translator) Upsert(req UpsertRequest) (Fragment, error) {
	if req.Table == "" {
		return Fragment{}, NewTranslateError("upsert: empty table name")
	}
	if len(req.Columns) == 0 {
		return Fragment{}, NewTranslateError("upsert: no columns")
	}
	if frag, ok := tr.cached("upsert", req); ok {
		return frag, nil
	}
	update := req.Update
	if len(update) == 0 {
		update = req.Columns
	}
	for _, col := range update {
		if !containsLabel(req.Columns, col) {
			return Fragment{}, NewTranslateError(fmt.Sprintf("upsert: update column %q not inserted", col))
		}
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tr.QuoteQualified(req.Table))
	b.WriteString(" (")
	for i, col := range req.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tr.QuoteIdentifier(col))
	}
	b.WriteString(") VALUES (")
	b.WriteString(tr.Placeholders(len(req.Columns)))
	b.WriteString(")")
	alias := tr.caps.Supports(CapUpsertAlias)
	if alias {
		b.WriteString(" AS new")
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	for i, col := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		q := tr.QuoteIdentifier(col)
		if alias {
			fmt.Fprintf(&b, "%s = new.%s", q, q)
		} else {
			fmt.Fprintf(&b, "%s = VALUES(%s)", q, q)
		}
	}
	frag := Fragment{SQL: b.String(), Params: len(req.Columns)}
	tr.store("upsert", req, frag)
	return frag, nil
}

// JSONPredicate describes a JSON path extraction used in a predicate.
// Path must start at the document root `$`. Unquote selects the
// unquoting extraction (`->>` or JSON_UNQUOTE) so string results compare
// without their JSON quotes.
type JSONPredicate struct {
	Column  string `msgpack:"column"`
	Path    string `msgpack:"path"`
	Unquote bool   `msgpack:"unquote"`
}

// JSONExtract renders the path extraction expression for a predicate.
// The operator forms are preferred where the server supports them; the
// function forms render on older servers. Servers without native JSON
// fail with a CapabilityError before any SQL is issued.
func (tr *Translator) JSONExtract(req JSONPredicate) (Fragment, error) {
	if !strings.HasPrefix(req.Path, "$") {
		return Fragment{}, NewTranslateError(fmt.Sprintf("json path %q must start at the document root", req.Path))
	}
	if !tr.caps.Supports(CapJSONNative) {
		return Fragment{}, NewCapabilityError(CapJSONNative, tr.caps)
	}
	if frag, ok := tr.cached("json", req); ok {
		return frag, nil
	}
	col := tr.QuoteIdentifier(req.Column)
	path := "'" + strings.ReplaceAll(req.Path, "'", "''") + "'"
	var sql string
	switch {
	case req.Unquote && tr.caps.Supports(CapJSONInlinePath):
		sql = fmt.Sprintf("%s->>%s", col, path)
	case req.Unquote:
		sql = fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, %s))", col, path)
	case tr.caps.Supports(CapJSONArrow):
		sql = fmt.Sprintf("%s->%s", col, path)
	default:
		sql = fmt.Sprintf("JSON_EXTRACT(%s, %s)", col, path)
	}
	frag := Fragment{SQL: sql}
	tr.store("json", req, frag)
	return frag, nil
}

// FullTextRequest describes a MATCH ... AGAINST predicate over one or
// more full-text indexed columns.
type FullTextRequest struct {
	Columns []string `msgpack:"columns"`
	Boolean bool     `msgpack:"boolean"` // IN BOOLEAN MODE instead of natural language
}

// FullText renders a MATCH ... AGAINST predicate with one placeholder
// for the search expression. Servers without InnoDB full-text indexes
// fail with a CapabilityError before any SQL is issued.
func (tr *Translator) FullText(req FullTextRequest) (Fragment, error) {
	if !tr.caps.Supports(CapFullTextMatch) {
		return Fragment{}, NewCapabilityError(CapFullTextMatch, tr.caps)
	}
	if len(req.Columns) == 0 {
		return Fragment{}, NewTranslateError("fulltext: no columns")
	}
	if frag, ok := tr.cached("fulltext", req); ok {
		return frag, nil
	}
	var b strings.Builder
	b.WriteString("MATCH (")
	for i, col := range req.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tr.QuoteIdentifier(col))
	}
	b.WriteString(") AGAINST (?")
	if req.Boolean {
		b.WriteString(" IN BOOLEAN MODE")
	} else {
		b.WriteString(" IN NATURAL LANGUAGE MODE")
	}
	b.WriteString(")")
	frag := Fragment{SQL: b.String(), Params: 1}
	tr.store("fulltext", req, frag)
	return frag, nil
}

// ExplainFormat selects the EXPLAIN output format.
type ExplainFormat int

const (
	// ExplainDefault is the tabular EXPLAIN output.
	ExplainDefault ExplainFormat = iota
	// ExplainJSON requests FORMAT=JSON output.
	ExplainJSON
	// ExplainTree requests FORMAT=TREE output.
	ExplainTree
	// ExplainAnalyze executes the statement and reports actual costs.
	ExplainAnalyze
)

// Explain prefixes a statement with the requested EXPLAIN form, gated on
// the capabilities that introduce each format.
func (tr *Translator) Explain(stmt string, format ExplainFormat) (string, error) {
	switch format {
	case ExplainDefault:
		return "EXPLAIN " + stmt, nil
	case ExplainJSON:
		if !tr.caps.Supports(CapExplainJSON) {
			return "", NewCapabilityError(CapExplainJSON, tr.caps)
		}
		return "EXPLAIN FORMAT=JSON " + stmt, nil
	case ExplainTree:
		if !tr.caps.Supports(CapExplainTree) {
			return "", NewCapabilityError(CapExplainTree, tr.caps)
		}
		return "EXPLAIN FORMAT=TREE " + stmt, nil
	case ExplainAnalyze:
		if !tr.caps.Supports(CapExplainAnalyze) {
			return "", NewCapabilityError(CapExplainAnalyze, tr.caps)
		}
		return "EXPLAIN ANALYZE " + stmt, nil
	}
	return "", NewTranslateError(fmt.Sprintf("unknown explain format %d", format))
}

// LikePattern escapes LIKE metacharacters in a literal so it matches
// itself when bound as a pattern parameter.
func (tr *Translator) LikePattern(literal string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(literal)
}

// SavepointSQL renders the statement for the given savepoint operation
// and name. Names produced by the transaction layer are always of the
// form sp_<depth> and need no quoting.
func (tr *Translator) SavepointSQL(op, name string) string {
	switch op {
	case "savepoint":
		return "SAVEPOINT " + name
	case "release":
		return "RELEASE SAVEPOINT " + name
	case "rollback":
		return "ROLLBACK TO SAVEPOINT " + name
	}
	return ""
}

// cacheKey hashes a request together with the capability bitmap. Two
// translators whose capability sets render identically share keys.
func (tr *Translator) cacheKey(kind string, req any) (uint64, bool) {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return 0, false
	}
	buf := make([]byte, 0, len(kind)+len(payload)+4)
	buf = append(buf, kind...)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, tr.caps.bits())
	return xxh3.Hash(buf), true
}

func (tr *Translator) cached(kind string, req any) (Fragment, bool) {
	key, ok := tr.cacheKey(kind, req)
	if !ok {
		return Fragment{}, false
	}
	v, ok := tr.cache.Load(key)
	if !ok {
		return Fragment{}, false
	}
	return v.(Fragment), true
}

func (tr *Translator) store(kind string, req any, frag Fragment) {
	if key, ok := tr.cacheKey(kind, req); ok {
		tr.cache.Store(key, frag)
	}
}
