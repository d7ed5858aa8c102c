package mysql

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Converter translates between domain values and driver values according
// to declared column types. Conversion is total: every value either maps
// losslessly or fails with a TypeConversionError before reaching the
// wire. A Converter is immutable and safe for concurrent use.
type Converter struct {
	caps CapabilitySet
}

// NewConverter returns a Converter for the given capability set.
func NewConverter(caps CapabilitySet) *Converter {
	return &Converter{caps: caps}
}

// Capabilities returns the capability set the converter was built for.
func (c *Converter) Capabilities() CapabilitySet {
	return c.caps
}

// decimalRE matches the decimal text form accepted for DECIMAL columns.
// Fixed-point values travel as text in both directions; converting
// through float64 would lose digits beyond its 53-bit mantissa.
var decimalRE = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// Encode converts a domain value into a driver argument for a column of
// the given type. nil encodes to SQL NULL for every type.
func (c *Converter) Encode(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindBool:
		return c.encodeBool(v)
	case KindInt:
		return c.encodeInt(v)
	case KindUint:
		return c.encodeUint(v)
	case KindFloat:
		return c.encodeFloat(v)
	case KindDecimal:
		return c.encodeDecimal(v)
	case KindString:
		return c.encodeString(v)
	case KindBytes:
		return c.encodeBytes(v)
	case KindDate:
		return c.encodeDate(v)
	case KindTime:
		return c.encodeTime(t, v)
	case KindDateTime:
		return c.encodeDateTime(t, v)
	case KindJSON:
		return c.encodeJSON(v)
	case KindEnum:
		return c.encodeEnum(t, v)
	case KindSet:
		return c.encodeSet(t, v)
	case KindUUID:
		return c.encodeUUID(t, v)
	case KindGeometry:
		return c.encodeGeometry(v)
	}
	return nil, NewTypeConversionError(t.Kind, "unsupported column kind")
}

// Decode converts a driver result value into a domain value for a column
// of the given type. SQL NULL decodes to nil for every type.
func (c *Converter) Decode(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindBool:
		return c.decodeBool(v)
	case KindInt:
		return c.decodeInt(v)
	case KindUint:
		return c.decodeUint(v)
	case KindFloat:
		return c.decodeFloat(v)
	case KindDecimal:
		return c.decodeDecimal(v)
	case KindString:
		return asString(t.Kind, v)
	case KindBytes:
		return c.decodeBytes(v)
	case KindDate:
		return c.decodeDate(v)
	case KindTime:
		return c.decodeTime(v)
	case KindDateTime:
		return c.decodeDateTime(v)
	case KindJSON:
		return c.decodeJSON(v)
	case KindEnum:
		return c.decodeEnum(t, v)
	case KindSet:
		return c.decodeSet(t, v)
	case KindUUID:
		return c.decodeUUID(t, v)
	case KindGeometry:
		return c.decodeGeometry(v)
	}
	return nil, NewTypeConversionError(t.Kind, "unsupported column kind")
}

// Bool columns are TINYINT(1) on the server.

func (c *Converter) encodeBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, NewTypeConversionError(KindBool, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindBool, Reason: "non-numeric bool", Err: err}
		}
		return n != 0, nil
	}
	return nil, NewTypeConversionError(KindBool, fmt.Sprintf("cannot decode %T", v))
}

func (c *Converter) encodeInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	}
	return nil, NewTypeConversionError(KindInt, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindInt, Reason: "non-numeric text", Err: err}
		}
		return n, nil
	}
	return nil, NewTypeConversionError(KindInt, fmt.Sprintf("cannot decode %T", v))
}

func (c *Converter) encodeUint(v any) (any, error) {
	switch x := v.(type) {
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case int:
		if x < 0 {
			return nil, NewTypeConversionError(KindUint, "negative value for unsigned column")
		}
		return uint64(x), nil
	case int64:
		if x < 0 {
			return nil, NewTypeConversionError(KindUint, "negative value for unsigned column")
		}
		return uint64(x), nil
	}
	return nil, NewTypeConversionError(KindUint, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeUint(v any) (any, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case int64:
		if x < 0 {
			return nil, NewTypeConversionError(KindUint, "negative value for unsigned column")
		}
		return uint64(x), nil
	case []byte:
		n, err := strconv.ParseUint(string(x), 10, 64)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindUint, Reason: "non-numeric text", Err: err}
		}
		return n, nil
	}
	return nil, NewTypeConversionError(KindUint, fmt.Sprintf("cannot decode %T", v))
}

func (c *Converter) encodeFloat(v any) (any, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return nil, NewTypeConversionError(KindFloat, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindFloat, Reason: "non-numeric text", Err: err}
		}
		return f, nil
	}
	return nil, NewTypeConversionError(KindFloat, fmt.Sprintf("cannot decode %T", v))
}

// Decimal columns travel as validated text in both directions. float64
// and float32 inputs are rejected outright; their binary representation
// cannot name most decimal fractions exactly.

func (c *Converter) encodeDecimal(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !decimalRE.MatchString(x) {
			return nil, NewTypeConversionError(KindDecimal, fmt.Sprintf("malformed decimal %q", x))
		}
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32, float64:
		return nil, NewTypeConversionError(KindDecimal, "float input would lose precision; pass decimal text")
	}
	return nil, NewTypeConversionError(KindDecimal, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeDecimal(v any) (any, error) {
	s, err := asString(KindDecimal, v)
	if err != nil {
		return nil, err
	}
	if !decimalRE.MatchString(s) {
		return nil, NewTypeConversionError(KindDecimal, fmt.Sprintf("malformed decimal %q", s))
	}
	return s, nil
}

func (c *Converter) encodeString(v any) (any, error) {
	return asString(KindString, v)
}

func (c *Converter) encodeBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, NewTypeConversionError(KindBytes, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, NewTypeConversionError(KindBytes, fmt.Sprintf("cannot decode %T", v))
}

// Temporal formats. Fractional seconds are truncated, never rounded, to
// the declared precision; the server in strict mode would otherwise
// round and break round trips.

const (
	dateFormat     = "2006-01-02"
	dateTimeFormat = "2006-01-02 15:04:05"
)

func (c *Converter) encodeDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.Format(dateFormat), nil
	case string:
		if _, err := time.Parse(dateFormat, x); err != nil {
			return nil, &TypeConversionError{Kind: KindDate, Reason: fmt.Sprintf("malformed date %q", x), Err: err}
		}
		return x, nil
	}
	return nil, NewTypeConversionError(KindDate, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeDate(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		t, err := time.Parse(dateFormat, string(x))
		if err != nil {
			return nil, &TypeConversionError{Kind: KindDate, Reason: "malformed date", Err: err}
		}
		return t, nil
	case string:
		t, err := time.Parse(dateFormat, x)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindDate, Reason: "malformed date", Err: err}
		}
		return t, nil
	}
	return nil, NewTypeConversionError(KindDate, fmt.Sprintf("cannot decode %T", v))
}

func (c *Converter) encodeDateTime(t Type, v any) (any, error) {
	fsp, err := checkFSP(KindDateTime, t.FSP)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case time.Time:
		return formatDateTime(x, fsp), nil
	}
	return nil, NewTypeConversionError(KindDateTime, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeDateTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseDateTime(string(x))
	case string:
		return parseDateTime(x)
	}
	return nil, NewTypeConversionError(KindDateTime, fmt.Sprintf("cannot decode %T", v))
}

// TIME columns hold elapsed time in the range -838:59:59 to 838:59:59,
// mapped to time.Duration.
const maxTimeValue = 838*time.Hour + 59*time.Minute + 59*time.Second + 999999*time.Microsecond

func (c *Converter) encodeTime(t Type, v any) (any, error) {
	fsp, err := checkFSP(KindTime, t.FSP)
	if err != nil {
		return nil, err
	}
	d, ok := v.(time.Duration)
	if !ok {
		return nil, NewTypeConversionError(KindTime, fmt.Sprintf("cannot encode %T", v))
	}
	if d > maxTimeValue || d < -maxTimeValue {
		return nil, NewTypeConversionError(KindTime, fmt.Sprintf("duration %s out of TIME range", d))
	}
	return formatTimeValue(d, fsp), nil
}

func (c *Converter) decodeTime(v any) (any, error) {
	s, err := asString(KindTime, v)
	if err != nil {
		return nil, err
	}
	d, err := parseTimeValue(s)
	if err != nil {
		return nil, &TypeConversionError{Kind: KindTime, Reason: fmt.Sprintf("malformed time %q", s), Err: err}
	}
	return d, nil
}

// Structured values always travel as canonical JSON text: on servers
// with the native JSON type the column parses it, on older servers the
// same text lives in a text column. Decoding is self-describing either
// way. Canonical means object keys sorted, so equal documents encode
// byte-identically.

func (c *Converter) encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case Doc:
		b, err := json.Marshal(docToAny(x))
		if err != nil {
			return nil, &TypeConversionError{Kind: KindJSON, Reason: "marshal failed", Err: err}
		}
		return string(b), nil
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, NewTypeConversionError(KindJSON, "invalid json document")
		}
		return string(x), nil
	case string:
		if !json.Valid([]byte(x)) {
			return nil, NewTypeConversionError(KindJSON, "invalid json document")
		}
		return x, nil
	}
	return nil, NewTypeConversionError(KindJSON, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeJSON(v any) (any, error) {
	s, err := asString(KindJSON, v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &TypeConversionError{Kind: KindJSON, Reason: "malformed document", Err: err}
	}
	doc, err := docFromAny(raw)
	if err != nil {
		return nil, &TypeConversionError{Kind: KindJSON, Reason: "malformed document", Err: err}
	}
	return doc, nil
}

// Enum and Set members are validated against the declared labels before
// the value leaves the process; the server in non-strict modes would
// silently insert the empty member instead.

func (c *Converter) encodeEnum(t Type, v any) (any, error) {
	s, err := asString(KindEnum, v)
	if err != nil {
		return nil, err
	}
	for _, label := range t.Labels {
		if s == label {
			return s, nil
		}
	}
	return nil, NewTypeConversionError(KindEnum, fmt.Sprintf("%q is not a member of %v", s, t.Labels))
}

func (c *Converter) decodeEnum(t Type, v any) (any, error) {
	s, err := asString(KindEnum, v)
	if err != nil {
		return nil, err
	}
	for _, label := range t.Labels {
		if s == label {
			return s, nil
		}
	}
	return nil, NewTypeConversionError(KindEnum, fmt.Sprintf("server returned %q, not a member of %v", s, t.Labels))
}

func (c *Converter) encodeSet(t Type, v any) (any, error) {
	var members []string
	switch x := v.(type) {
	case []string:
		members = x
	case string:
		if x != "" {
			members = strings.Split(x, ",")
		}
	default:
		return nil, NewTypeConversionError(KindSet, fmt.Sprintf("cannot encode %T", v))
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if !containsLabel(t.Labels, m) {
			return nil, NewTypeConversionError(KindSet, fmt.Sprintf("%q is not a member of %v", m, t.Labels))
		}
		seen[m] = true
	}
	// Normalize to definition order, the order the server stores and
	// returns members in.
	out := make([]string, 0, len(seen))
	for _, label := range t.Labels {
		if seen[label] {
			out = append(out, label)
		}
	}
	return strings.Join(out, ","), nil
}

func (c *Converter) decodeSet(t Type, v any) (any, error) {
	s, err := asString(KindSet, v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return []string{}, nil
	}
	members := strings.Split(s, ",")
	for _, m := range members {
		if !containsLabel(t.Labels, m) {
			return nil, NewTypeConversionError(KindSet, fmt.Sprintf("server returned %q, not a member of %v", m, t.Labels))
		}
	}
	return members, nil
}

func (c *Converter) encodeUUID(t Type, v any) (any, error) {
	var id uuid.UUID
	switch x := v.(type) {
	case uuid.UUID:
		id = x
	case string:
		parsed, err := uuid.Parse(x)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindUUID, Reason: fmt.Sprintf("malformed uuid %q", x), Err: err}
		}
		id = parsed
	case []byte:
		parsed, err := uuid.FromBytes(x)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindUUID, Reason: "malformed uuid bytes", Err: err}
		}
		id = parsed
	default:
		return nil, NewTypeConversionError(KindUUID, fmt.Sprintf("cannot encode %T", v))
	}
	if t.Binary {
		b := id // copy; MarshalBinary never fails
		raw, _ := b.MarshalBinary()
		return raw, nil
	}
	return id.String(), nil
}

func (c *Converter) decodeUUID(t Type, v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		if t.Binary && len(x) == 16 {
			id, err := uuid.FromBytes(x)
			if err != nil {
				return nil, &TypeConversionError{Kind: KindUUID, Reason: "malformed uuid bytes", Err: err}
			}
			return id, nil
		}
		id, err := uuid.Parse(string(x))
		if err != nil {
			return nil, &TypeConversionError{Kind: KindUUID, Reason: "malformed uuid text", Err: err}
		}
		return id, nil
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, &TypeConversionError{Kind: KindUUID, Reason: "malformed uuid text", Err: err}
		}
		return id, nil
	}
	return nil, NewTypeConversionError(KindUUID, fmt.Sprintf("cannot decode %T", v))
}

// Geometry columns carry spatial values. WKT (well-known text, e.g.
// "POINT(1 2)") travels as validated text for use with ST_GeomFromText;
// byte input and all decoded output is the server's binary form, a
// 4-byte SRID prefix followed by WKB, passed through opaquely.

var wktTypes = []string{
	"POINT", "LINESTRING", "POLYGON",
	"MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON",
	"GEOMETRYCOLLECTION",
}

func (c *Converter) encodeGeometry(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !isWKT(x) {
			return nil, NewTypeConversionError(KindGeometry, fmt.Sprintf("malformed wkt %q", x))
		}
		return x, nil
	case []byte:
		// SRID prefix plus at least the WKB byte-order marker and type.
		if len(x) < 9 {
			return nil, NewTypeConversionError(KindGeometry, "truncated geometry value")
		}
		return x, nil
	}
	return nil, NewTypeConversionError(KindGeometry, fmt.Sprintf("cannot encode %T", v))
}

func (c *Converter) decodeGeometry(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		if len(x) < 9 {
			return nil, NewTypeConversionError(KindGeometry, "truncated geometry value")
		}
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, NewTypeConversionError(KindGeometry, fmt.Sprintf("cannot decode %T", v))
}

func isWKT(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, typ := range wktTypes {
		if rest, ok := strings.CutPrefix(s, typ); ok {
			rest = strings.TrimSpace(rest)
			// EMPTY geometries are legal WKT too.
			if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
				return true
			}
			if rest == "EMPTY" {
				return true
			}
		}
	}
	return false
}

func asString(k Kind, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return "", NewTypeConversionError(k, fmt.Sprintf("cannot convert %T to text", v))
}

func containsLabel(labels []string, s string) bool {
	for _, l := range labels {
		if l == s {
			return true
		}
	}
	return false
}

func checkFSP(k Kind, fsp int) (int, error) {
	if fsp < 0 || fsp > 6 {
		return 0, NewTypeConversionError(k, fmt.Sprintf("fractional seconds precision %d out of range [0, 6]", fsp))
	}
	return fsp, nil
}

// formatDateTime renders t with the fraction truncated to fsp digits.
func formatDateTime(t time.Time, fsp int) string {
	s := t.Format(dateTimeFormat)
	if fsp == 0 {
		return s
	}
	frac := truncFraction(t.Nanosecond(), fsp)
	return fmt.Sprintf("%s.%0*d", s, fsp, frac)
}

func parseDateTime(s string) (time.Time, error) {
	layout := dateTimeFormat
	if i := strings.IndexByte(s, '.'); i >= 0 {
		layout = dateTimeFormat + "." + strings.Repeat("9", len(s)-i-1)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, &TypeConversionError{Kind: KindDateTime, Reason: fmt.Sprintf("malformed datetime %q", s), Err: err}
	}
	return t, nil
}

// formatTimeValue renders a duration as [-]HHH:MM:SS with an optional
// fraction truncated to fsp digits.
func formatTimeValue(d time.Duration, fsp int) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	fmt.Fprintf(&b, "%02d:%02d:%02d", h, m, s)
	if fsp > 0 {
		fmt.Fprintf(&b, ".%0*d", fsp, truncFraction(int(d.Nanoseconds()), fsp))
	}
	return b.String()
}

func parseTimeValue(s string) (time.Duration, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	main, frac, _ := strings.Cut(s, ".")
	parts := strings.Split(main, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		padded := frac + strings.Repeat("0", 9-len(frac))
		ns, err := strconv.Atoi(padded)
		if err != nil {
			return 0, err
		}
		d += time.Duration(ns)
	}
	if neg {
		d = -d
	}
	return d, nil
}

// truncFraction truncates a nanosecond count to fsp decimal digits.
func truncFraction(ns, fsp int) int {
	div := 1
	for i := 0; i < 9-fsp; i++ {
		div *= 10
	}
	return ns / div
}
