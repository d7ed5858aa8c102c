package mysql

import (
	"encoding/json"
	"fmt"
)

// Kind enumerates the column type families the backend converts between.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindDate
	KindTime
	KindDateTime
	KindJSON
	KindEnum
	KindSet
	KindUUID
	KindGeometry
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindBool:     "bool",
	KindInt:      "int",
	KindUint:     "uint",
	KindFloat:    "float",
	KindDecimal:  "decimal",
	KindString:   "string",
	KindBytes:    "bytes",
	KindDate:     "date",
	KindTime:     "time",
	KindDateTime: "datetime",
	KindJSON:     "json",
	KindEnum:     "enum",
	KindSet:      "set",
	KindUUID:     "uuid",
	KindGeometry: "geometry",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Type describes a column type for conversion purposes. It carries only
// what conversion needs; length, nullability and defaults live in the
// schema layer above.
type Type struct {
	Kind Kind

	// FSP is the fractional seconds precision for Time and DateTime
	// columns, 0 through 6.
	FSP int

	// Labels is the ordered member list for Enum and Set columns.
	Labels []string

	// Binary selects BINARY(16) storage for UUID columns instead of
	// CHAR(36) text.
	Binary bool
}

// TypeOf returns a plain Type for the given kind.
func TypeOf(k Kind) Type {
	return Type{Kind: k}
}

// TemporalType returns a Time or DateTime type with the given fractional
// seconds precision.
func TemporalType(k Kind, fsp int) Type {
	return Type{Kind: k, FSP: fsp}
}

// EnumType returns an Enum type with the given member labels.
func EnumType(labels ...string) Type {
	return Type{Kind: KindEnum, Labels: labels}
}

// SetType returns a Set type with the given member labels.
func SetType(labels ...string) Type {
	return Type{Kind: KindSet, Labels: labels}
}

// UUIDType returns a UUID type. Binary UUIDs are stored as BINARY(16);
// text UUIDs as CHAR(36) in canonical hyphenated form.
func UUIDType(binary bool) Type {
	return Type{Kind: KindUUID, Binary: binary}
}

// Doc is a self-describing JSON document value. Documents decoded from a
// JSON column always come back as Doc values, so callers can distinguish
// the JSON string "1" from the JSON number 1.
//
// The closed set of implementations is DocNull, DocBool, DocNumber,
// DocString, DocSeq and DocMap.
type Doc interface {
	isDoc()
}

// DocNull is the JSON null.
type DocNull struct{}

// DocBool is a JSON boolean.
type DocBool bool

// DocNumber is a JSON number, kept in its decimal text form to avoid
// float rounding on round trips.
type DocNumber json.Number

// DocString is a JSON string.
type DocString string

// DocSeq is a JSON array.
type DocSeq []Doc

// DocMap is a JSON object.
type DocMap map[string]Doc

func (DocNull) isDoc()   {}
func (DocBool) isDoc()   {}
func (DocNumber) isDoc() {}
func (DocString) isDoc() {}
func (DocSeq) isDoc()    {}
func (DocMap) isDoc()    {}

// docFromAny converts the output of json.Decoder (with UseNumber) into a
// Doc tree.
func docFromAny(v any) (Doc, error) {
	switch x := v.(type) {
	case nil:
		return DocNull{}, nil
	case bool:
		return DocBool(x), nil
	case json.Number:
		return DocNumber(x), nil
	case string:
		return DocString(x), nil
	case []any:
		seq := make(DocSeq, len(x))
		for i, e := range x {
			d, err := docFromAny(e)
			if err != nil {
				return nil, err
			}
			seq[i] = d
		}
		return seq, nil
	case map[string]any:
		m := make(DocMap, len(x))
		for k, e := range x {
			d, err := docFromAny(e)
			if err != nil {
				return nil, err
			}
			m[k] = d
		}
		return m, nil
	}
	return nil, fmt.Errorf("mysql: unsupported json value %T", v)
}

// docToAny converts a Doc tree into values json.Marshal renders
// canonically (object keys sorted).
func docToAny(d Doc) any {
	switch x := d.(type) {
	case DocNull:
		return nil
	case DocBool:
		return bool(x)
	case DocNumber:
		return json.Number(x)
	case DocString:
		return string(x)
	case DocSeq:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = docToAny(e)
		}
		return out
	case DocMap:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = docToAny(e)
		}
		return out
	}
	return nil
}
