package mysql

// Capability is a named, binary SQL feature gated by server version.
type Capability string

const (
	// CapSavepoints marks support for SAVEPOINT / ROLLBACK TO SAVEPOINT.
	CapSavepoints Capability = "savepoints"
	// CapUTF8MB4 marks support for the utf8mb4 character set.
	CapUTF8MB4 Capability = "utf8mb4"
	// CapFullTextMatch marks InnoDB full-text MATCH ... AGAINST support.
	CapFullTextMatch Capability = "fulltext-match"
	// CapExplainJSON marks EXPLAIN FORMAT=JSON support.
	CapExplainJSON Capability = "explain-json"
	// CapGeneratedColumns marks generated (virtual/stored) column support.
	CapGeneratedColumns Capability = "generated-columns"
	// CapJSONNative marks the native JSON column type and JSON_* functions.
	CapJSONNative Capability = "json-native"
	// CapJSONArrow marks the -> path extraction operator.
	CapJSONArrow Capability = "json-arrow"
	// CapJSONInlinePath marks the ->> unquoting path extraction operator.
	CapJSONInlinePath Capability = "json-inline-path"
	// CapCTE marks WITH common table expressions.
	CapCTE Capability = "cte"
	// CapRecursiveCTE marks WITH RECURSIVE.
	CapRecursiveCTE Capability = "recursive-cte"
	// CapWindowFunctions marks OVER (...) window functions.
	CapWindowFunctions Capability = "window-functions"
	// CapExplainTree marks EXPLAIN FORMAT=TREE support.
	CapExplainTree Capability = "explain-tree"
	// CapCheckConstraints marks enforced CHECK constraints.
	CapCheckConstraints Capability = "check-constraints"
	// CapExplainAnalyze marks EXPLAIN ANALYZE support.
	CapExplainAnalyze Capability = "explain-analyze"
	// CapUpsertAlias marks the row alias form of ON DUPLICATE KEY UPDATE
	// ("VALUES (...) AS new" replacing the deprecated VALUES() function).
	CapUpsertAlias Capability = "upsert-alias"
	// CapIntersectExcept marks INTERSECT and EXCEPT set operations.
	CapIntersectExcept Capability = "intersect-except"
)

// capabilityThresholds is the minimum server version per capability.
// Capabilities are additive and monotonic: once available at a version,
// they are assumed available at every later version. The table is
// deliberately configuration data rather than scattered constants, and it
// is never probed from the server; a patched-back feature on an old minor
// release shows up as a false negative, which is the accepted trade for
// determinism and zero extra round trips.
var capabilityThresholds = map[Capability]ServerVersion{
	CapSavepoints:       {5, 0, 3},
	CapUTF8MB4:          {5, 5, 3},
	CapFullTextMatch:    {5, 6, 4},
	CapExplainJSON:      {5, 6, 5},
	CapGeneratedColumns: {5, 7, 6},
	CapJSONNative:       {5, 7, 8},
	CapJSONArrow:        {5, 7, 8},
	CapJSONInlinePath:   {5, 7, 13},
	CapCTE:              {8, 0, 0},
	CapRecursiveCTE:     {8, 0, 0},
	CapWindowFunctions:  {8, 0, 0},
	CapExplainTree:      {8, 0, 16},
	CapCheckConstraints: {8, 0, 16},
	CapExplainAnalyze:   {8, 0, 18},
	CapUpsertAlias:      {8, 0, 19},
	CapIntersectExcept:  {8, 0, 31},
}

// allCapabilities lists every capability in a fixed order. The order is
// load-bearing: it defines the bit positions used by CapabilitySet.bits,
// which in turn key the translator's fragment cache.
var allCapabilities = []Capability{
	CapSavepoints,
	CapUTF8MB4,
	CapFullTextMatch,
	CapExplainJSON,
	CapGeneratedColumns,
	CapJSONNative,
	CapJSONArrow,
	CapJSONInlinePath,
	CapCTE,
	CapRecursiveCTE,
	CapWindowFunctions,
	CapExplainTree,
	CapCheckConstraints,
	CapExplainAnalyze,
	CapUpsertAlias,
	CapIntersectExcept,
}

// capabilityIndex maps each capability to its bit position.
var capabilityIndex = func() map[Capability]uint {
	m := make(map[Capability]uint, len(allCapabilities))
	for i, c := range allCapabilities {
		m[c] = uint(i)
	}
	return m
}()

// MinVersionFor returns the minimum server version providing the given
// capability. The second return is false for unknown capabilities.
func MinVersionFor(c Capability) (ServerVersion, bool) {
	v, ok := capabilityThresholds[c]
	return v, ok
}

// CapabilitySet is an immutable mapping from capability to availability,
// derived once per backend from the detected server version. It is safe
// to share by reference across concurrent callers.
type CapabilitySet struct {
	version ServerVersion
	mask    uint32
}

// DetectCapabilities derives the capability set for a server version.
// It is a pure function: the same version always yields the same set.
func DetectCapabilities(v ServerVersion) CapabilitySet {
	s := CapabilitySet{version: v}
	for i, c := range allCapabilities {
		if v.AtLeast(capabilityThresholds[c]) {
			s.mask |= 1 << uint(i)
		}
	}
	return s
}

// Supports reports whether the capability is available. Unknown
// capabilities are reported as absent.
func (s CapabilitySet) Supports(c Capability) bool {
	i, ok := capabilityIndex[c]
	if !ok {
		return false
	}
	return s.mask&(1<<i) != 0
}

// Version returns the server version the set was derived from.
func (s CapabilitySet) Version() ServerVersion {
	return s.version
}

// bits returns the availability bitmap. Used as part of fragment cache
// keys; two sets with equal bits render identical SQL.
func (s CapabilitySet) bits() uint32 {
	return s.mask
}
