package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		in   string
		want ServerVersion
	}{
		{"8.0.32", ServerVersion{8, 0, 32}},
		{"5.7.44", ServerVersion{5, 7, 44}},
		{"8.0.32-0ubuntu0.22.04.2", ServerVersion{8, 0, 32}},
		{"5.5.5-10.6.12-MariaDB", ServerVersion{5, 5, 5}},
		{"8.0.16-log", ServerVersion{8, 0, 16}},
		{"8.0", ServerVersion{8, 0, 0}},
		{"9", ServerVersion{9, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseServerVersion(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseServerVersionErrors(t *testing.T) {
	for _, in := range []string{"", "-log", "a.b.c", "8.x.0", "8..1"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseServerVersion(in)
			require.Error(t, err)
		})
	}
}

func TestServerVersionCompare(t *testing.T) {
	tests := []struct {
		a, b ServerVersion
		want int
	}{
		{ServerVersion{8, 0, 0}, ServerVersion{8, 0, 0}, 0},
		{ServerVersion{8, 0, 1}, ServerVersion{8, 0, 0}, 1},
		{ServerVersion{5, 7, 44}, ServerVersion{8, 0, 0}, -1},
		{ServerVersion{8, 1, 0}, ServerVersion{8, 0, 99}, 1},
		{ServerVersion{5, 7, 8}, ServerVersion{5, 7, 13}, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Compare(tt.b), "%s vs %s", tt.a, tt.b)
		assert.Equal(t, -tt.want, tt.b.Compare(tt.a), "%s vs %s reversed", tt.b, tt.a)
	}
}

func TestServerVersionAtLeast(t *testing.T) {
	v := ServerVersion{8, 0, 19}
	assert.True(t, v.AtLeast(ServerVersion{8, 0, 19}))
	assert.True(t, v.AtLeast(ServerVersion{5, 7, 8}))
	assert.False(t, v.AtLeast(ServerVersion{8, 0, 20}))
}

func TestServerVersionString(t *testing.T) {
	assert.Equal(t, "8.0.32", ServerVersion{8, 0, 32}.String())
}
