package relation

import (
	"strconv"
	"strings"
)

// Value is a nullable cell. The zero Value is null.
type Value struct {
	s     string
	valid bool
}

// String returns a non-null Value holding s.
func String(s string) Value {
	return Value{s: s, valid: true}
}

// Null returns the null Value.
func Null() Value {
	return Value{}
}

// FromPtr returns String(*p), or Null when p is nil.
func FromPtr(p *string) Value {
	if p == nil {
		return Null()
	}
	return String(*p)
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool {
	return !v.valid
}

// Str returns the string held by v, or "" when v is null.
func (v Value) Str() string {
	return v.s
}

// Ptr returns a pointer to a copy of the string held by v, or nil when v is null.
func (v Value) Ptr() *string {
	if !v.valid {
		return nil
	}
	s := v.s
	return &s
}

// Equal is a null-safe comparison: two nulls are equal, null never equals a string.
func (v Value) Equal(o Value) bool {
	return v == o
}

func (v Value) String() string {
	if !v.valid {
		return "NULL"
	}
	return v.s
}

// Row is one tuple of a Relation, positionally aligned with its columns.
type Row []Value

// key encodes the values at idx into a string usable as a map key.
// Each value is length-prefixed so no two distinct tuples share an encoding.
func (r Row) key(idx []int) string {
	var b strings.Builder
	for _, i := range idx {
		v := r[i]
		if !v.valid {
			b.WriteString("-;")
			continue
		}
		b.WriteString(strconv.Itoa(len(v.s)))
		b.WriteByte(':')
		b.WriteString(v.s)
	}
	return b.String()
}
