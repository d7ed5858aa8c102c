package mysql

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerVersion is the server version triple reported at handshake time.
// Versions are totally ordered by lexicographic comparison of the triple.
type ServerVersion struct {
	Major int
	Minor int
	Patch int
}

// ParseServerVersion parses a version string as reported by SELECT VERSION().
// Vendor suffixes after the first dash ("8.0.32-log", "10.6.12-MariaDB")
// are ignored. Missing minor or patch components default to zero.
func ParseServerVersion(s string) (ServerVersion, error) {
	base := s
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return ServerVersion{}, fmt.Errorf("mysql: empty server version %q", s)
	}
	parts := strings.SplitN(base, ".", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	var v ServerVersion
	dst := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return ServerVersion{}, fmt.Errorf("mysql: malformed server version %q", s)
		}
		*dst[i] = n
	}
	return v, nil
}

// Compare returns -1, 0 or 1 depending on whether v is ordered before,
// equal to, or after o.
func (v ServerVersion) Compare(o ServerVersion) int {
	switch {
	case v.Major != o.Major:
		return cmpInt(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpInt(v.Minor, o.Minor)
	default:
		return cmpInt(v.Patch, o.Patch)
	}
}

// AtLeast reports whether v is o or newer.
func (v ServerVersion) AtLeast(o ServerVersion) bool {
	return v.Compare(o) >= 0
}

// IsZero reports whether v is the zero version, i.e. not yet detected.
func (v ServerVersion) IsZero() bool {
	return v == ServerVersion{}
}

// String returns the dotted form of the version.
func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
