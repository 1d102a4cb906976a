package zarrutils

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype is a simple v2 data type written as a NumPy array protocol type
// string: a byte order character ("<", ">" or "|"), a basic type character
// and the number of bytes per item, optionally followed by datetime units
// in brackets ("<M8[ns]").
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// ParseDtype parses a typestr like "<f8" or "|S12"
func ParseDtype(s string) (dt Dtype, err error) {
	// some writers HTML-escape the byte order character
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid dtype string. %q is too short", s)
	}

	if dt.ByteOrder, err = ParseByteOrder(rune(s[0])); err != nil {
		return dt, err
	}
	if dt.BasicType, err = ParseBasicType(rune(s[1])); err != nil {
		return dt, err
	}

	rest := s[2:]
	sizeStr := rest
	if i := strings.IndexByte(rest, '['); i >= 0 {
		sizeStr, dt.Units = rest[:i], rest[i:]
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return dt, fmt.Errorf("invalid dtype size in %q: %w", s, err)
	}
	if size < 0 {
		return dt, fmt.Errorf("invalid dtype size in %q", s)
	}
	dt.ByteSize = size
	return dt, nil
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d%s", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize, dt.Units)
}

// ItemSize is the number of bytes one element occupies in memory. Unicode
// sizes count characters of four bytes each.
func (dt Dtype) ItemSize() int {
	if dt.BasicType == BTUnicode {
		return dt.ByteSize * 4
	}
	return dt.ByteSize
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}
	*dt = t
	return nil
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := basicTypeNames[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

// Human returns a readable name for the basic type
func (bt BasicType) Human() string {
	return basicTypeNames[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var basicTypeNames = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timedelta",
	BTDatetime:      "datetime",
	BTString:        "bytes",
	BTUnicode:       "unicode",
	BTOther:         "void",
}

// StructuredType is the dtype field of a v2 .zarray: either a plain Dtype
// or a list of [fieldname, dtype(, shape)] entries.
type StructuredType struct {
	Fieldname string
	Dtype     Dtype
	Shape     []int
	Children  []StructuredType
}

var (
	_ json.Unmarshaler = (*StructuredType)(nil)
	_ json.Marshaler   = (*StructuredType)(nil)
)

func ParseStructuredType(d interface{}) (StructuredType, error) {
	switch v := d.(type) {
	case string:
		dt, err := ParseDtype(v)
		if err != nil {
			return StructuredType{}, err
		}
		return StructuredType{Dtype: dt}, nil
	case []interface{}:
		return parseStructuredFields(v)
	default:
		return StructuredType{}, fmt.Errorf("unexpected dtype type %T", d)
	}
}

// parseStructuredFields parses a list of field entries into a parent type
func parseStructuredFields(fields []interface{}) (StructuredType, error) {
	if len(fields) == 0 {
		return StructuredType{}, fmt.Errorf("invalid structured dtype: no fields")
	}
	parent := StructuredType{}
	for i, el := range fields {
		entry, ok := el.([]interface{})
		if !ok {
			return StructuredType{}, fmt.Errorf("field %d: expected [name, dtype] list, got %T", i, el)
		}
		ch, err := parseStructuredField(entry)
		if err != nil {
			return StructuredType{}, fmt.Errorf("field %d: %w", i, err)
		}
		parent.Children = append(parent.Children, ch)
	}
	return parent, nil
}

func parseStructuredField(d []interface{}) (StructuredType, error) {
	if len(d) < 2 {
		return StructuredType{}, fmt.Errorf("invalid structured dtype field of length %d", len(d))
	}

	name, ok := d[0].(string)
	if !ok {
		return StructuredType{}, fmt.Errorf("field name must be a string. got %T", d[0])
	}
	t := StructuredType{Fieldname: name}

	switch x := d[1].(type) {
	case string:
		dt, err := ParseDtype(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Dtype = dt
	case []interface{}:
		nested, err := parseStructuredFields(x)
		if err != nil {
			return StructuredType{}, err
		}
		t.Children = nested.Children
	default:
		return StructuredType{}, fmt.Errorf("want either dtype string or field list. got %T", d[1])
	}

	if len(d) > 2 {
		dims, ok := d[2].([]interface{})
		if !ok {
			return StructuredType{}, fmt.Errorf("field shape must be a list. got %T", d[2])
		}
		for _, dim := range dims {
			n, ok := dim.(float64)
			if !ok {
				return StructuredType{}, fmt.Errorf("field shape entries must be integers. got %T", dim)
			}
			t.Shape = append(t.Shape, int(n))
		}
	}
	return t, nil
}

// IsBasic reports whether the type is a single plain Dtype
func (st *StructuredType) IsBasic() bool {
	return st.Fieldname == "" && st.Shape == nil && len(st.Children) == 0
}

func (st *StructuredType) Human() string {
	if st.IsBasic() {
		return st.Dtype.BasicType.Human()
	}
	return "struct"
}

// ItemSize is the byte width of one element, summing structured fields
func (st *StructuredType) ItemSize() int {
	size := st.Dtype.ItemSize()
	if len(st.Children) > 0 {
		size = 0
		for i := range st.Children {
			size += st.Children[i].ItemSize()
		}
	}
	for _, d := range st.Shape {
		size *= d
	}
	return size
}

// String renders a basic type as its typestr and structured types as JSON
func (st *StructuredType) String() string {
	if st.IsBasic() {
		return st.Dtype.String()
	}
	data, err := st.MarshalJSON()
	if err != nil {
		return "struct"
	}
	return string(data)
}

func (st *StructuredType) fieldJSON() interface{} {
	entry := []interface{}{st.Fieldname}
	if len(st.Children) > 0 {
		fields := make([]interface{}, len(st.Children))
		for i := range st.Children {
			fields[i] = st.Children[i].fieldJSON()
		}
		entry = append(entry, fields)
	} else {
		entry = append(entry, st.Dtype.String())
	}
	if st.Shape != nil {
		entry = append(entry, st.Shape)
	}
	return entry
}

func (st *StructuredType) MarshalJSON() ([]byte, error) {
	if st.IsBasic() {
		return st.Dtype.MarshalJSON()
	}
	fields := make([]interface{}, len(st.Children))
	for i := range st.Children {
		fields[i] = st.Children[i].fieldJSON()
	}
	return json.Marshal(fields)
}

func (st *StructuredType) UnmarshalJSON(d []byte) error {
	var v interface{}
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	t, err := ParseStructuredType(v)
	if err != nil {
		return err
	}
	*st = t
	return nil
}

// v3DataTypeSizes maps v3 core data type names to element byte widths
var v3DataTypeSizes = map[string]int{
	"bool":       1,
	"int8":       1,
	"uint8":      1,
	"int16":      2,
	"uint16":     2,
	"int32":      4,
	"uint32":     4,
	"int64":      8,
	"uint64":     8,
	"float16":    2,
	"float32":    4,
	"float64":    8,
	"complex64":  8,
	"complex128": 16,
}

// V3ItemSize returns the byte width of a v3 data type name. Raw types are
// written "r<bits>".
func V3ItemSize(name string) (int, error) {
	if size, ok := v3DataTypeSizes[name]; ok {
		return size, nil
	}
	if strings.HasPrefix(name, "r") {
		bits, err := strconv.Atoi(name[1:])
		if err == nil && bits > 0 && bits%8 == 0 {
			return bits / 8, nil
		}
	}
	return 0, fmt.Errorf("unsupported data type %q", name)
}
