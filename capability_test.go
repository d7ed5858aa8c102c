package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCapabilities(t *testing.T) {
	tests := []struct {
		version string
		has     []Capability
		missing []Capability
	}{
		{
			version: "5.6.40",
			has:     []Capability{CapSavepoints, CapUTF8MB4, CapFullTextMatch, CapExplainJSON},
			missing: []Capability{CapJSONNative, CapCTE, CapWindowFunctions},
		},
		{
			version: "5.7.8",
			has:     []Capability{CapJSONNative, CapJSONArrow},
			missing: []Capability{CapJSONInlinePath, CapCTE},
		},
		{
			version: "5.7.13",
			has:     []Capability{CapJSONInlinePath},
			missing: []Capability{CapCTE, CapUpsertAlias},
		},
		{
			version: "8.0.0",
			has:     []Capability{CapCTE, CapRecursiveCTE, CapWindowFunctions},
			missing: []Capability{CapExplainTree, CapExplainAnalyze, CapUpsertAlias},
		},
		{
			version: "8.0.19",
			has:     []Capability{CapExplainTree, CapExplainAnalyze, CapUpsertAlias},
			missing: []Capability{CapIntersectExcept},
		},
		{
			version: "8.0.32",
			has:     allCapabilities,
		},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			v, err := ParseServerVersion(tt.version)
			require.NoError(t, err)
			caps := DetectCapabilities(v)
			for _, c := range tt.has {
				assert.True(t, caps.Supports(c), "expected %s at %s", c, tt.version)
			}
			for _, c := range tt.missing {
				assert.False(t, caps.Supports(c), "unexpected %s at %s", c, tt.version)
			}
		})
	}
}

func TestDetectCapabilitiesDeterministic(t *testing.T) {
	v := ServerVersion{8, 0, 19}
	a := DetectCapabilities(v)
	b := DetectCapabilities(v)
	assert.Equal(t, a, b)
	assert.Equal(t, a.bits(), b.bits())
}

func TestCapabilitiesMonotonic(t *testing.T) {
	// Everything available at a version stays available at every later one.
	versions := []ServerVersion{
		{5, 0, 3}, {5, 5, 3}, {5, 6, 4}, {5, 6, 5}, {5, 7, 6}, {5, 7, 8},
		{5, 7, 13}, {8, 0, 0}, {8, 0, 16}, {8, 0, 18}, {8, 0, 19}, {8, 0, 31},
	}
	prev := DetectCapabilities(versions[0])
	for _, v := range versions[1:] {
		cur := DetectCapabilities(v)
		assert.Equal(t, prev.bits(), prev.bits()&cur.bits(), "capability lost between %s and %s", prev.Version(), v)
		prev = cur
	}
}

func TestSupportsUnknownCapability(t *testing.T) {
	caps := DetectCapabilities(ServerVersion{8, 0, 32})
	assert.False(t, caps.Supports(Capability("time-travel")))
}

func TestMinVersionFor(t *testing.T) {
	v, ok := MinVersionFor(CapJSONInlinePath)
	require.True(t, ok)
	assert.Equal(t, ServerVersion{5, 7, 13}, v)

	_, ok = MinVersionFor(Capability("time-travel"))
	assert.False(t, ok)
}
