package encoding

import (
	"fmt"
	"strings"
)

// baseTypeCodes maps a base type name to its single-letter on-disk tag.
// Order matches the reference encoding table: void, i8, i16, i32, i64, f32,
// f64, str.
var baseTypeCodes = []struct {
	name string
	code byte
}{
	{"void", 'v'},
	{"i8", 'b'},
	{"i16", 's'},
	{"i32", 'i'},
	{"i64", 'l'},
	{"f32", 'f'},
	{"f64", 'd'},
	{"str", 'a'},
}

const structTypePrefix = 'C'

func codeForBaseType(name string) (byte, bool) {
	for _, e := range baseTypeCodes {
		if e.name == name {
			return e.code, true
		}
	}
	return 0, false
}

func baseTypeForCode(code byte) (string, bool) {
	for _, e := range baseTypeCodes {
		if e.code == code {
			return e.name, true
		}
	}
	return "", false
}

// VariableType is a structured representation of a source-language type:
// base type name, array dimension count, optional owning-import index, and
// optional GC layout id. Two VariableTypes are equal iff their encoded forms
// and layout ids agree (spec §3).
type VariableType struct {
	BaseType    string
	ArrayDims   int
	ImportIndex *int
	LayoutID    *int
}

// Equal compares two variable types per the spec's equality rule.
func (t VariableType) Equal(o VariableType) bool {
	te, terr := t.EncodeString()
	oe, oerr := o.EncodeString()
	if terr != nil || oerr != nil || te != oe {
		return false
	}
	if (t.LayoutID == nil) != (o.LayoutID == nil) {
		return false
	}
	if t.LayoutID != nil && *t.LayoutID != *o.LayoutID {
		return false
	}
	return true
}

// EncodeString renders the base-form encoding as a single string, matching
// the reference implementation's variable_type::encode.
func (t VariableType) EncodeString() (string, error) {
	prefix := strings.Repeat("[", t.ArrayDims)
	if code, ok := codeForBaseType(t.BaseType); ok {
		return prefix + string(code), nil
	}
	if t.BaseType == "" {
		return "", fmt.Errorf("encoding: cannot encode empty struct name")
	}
	return fmt.Sprintf("%s%c%s;", prefix, structTypePrefix, t.BaseType), nil
}

// SetFromEncoded parses the base-form encoding (without the trailing import
// index) and populates BaseType/ArrayDims.
func (t *VariableType) SetFromEncoded(s string) error {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	base := s[dims:]
	if base == "" {
		return fmt.Errorf("encoding: cannot decode invalid type %q", s)
	}

	if name, ok := baseTypeForCode(base[0]); ok && len(base) == 1 {
		t.BaseType = name
		t.ArrayDims = dims
		return nil
	}
	if len(base) >= 3 && base[0] == structTypePrefix {
		if base[len(base)-1] != ';' {
			return fmt.Errorf("encoding: cannot decode type with invalid name")
		}
		t.BaseType = base[1 : len(base)-1]
		t.ArrayDims = dims
		return nil
	}
	return fmt.Errorf("encoding: cannot decode unknown type %q", s)
}

// WriteVariableType writes t's on-disk representation: the base-form
// encoding followed by a VLE import index (-1 for "local").
func WriteVariableType(w *Writer, t VariableType) error {
	enc, err := t.EncodeString()
	if err != nil {
		return err
	}
	for i := 0; i < len(enc); i++ {
		if err := w.WriteByte(enc[i]); err != nil {
			return err
		}
	}
	idx := int64(-1)
	if t.ImportIndex != nil {
		idx = int64(*t.ImportIndex)
	}
	return WriteVLE(w, idx)
}

// ReadVariableType reads a variable type as encoded by WriteVariableType.
func ReadVariableType(r *Reader) (VariableType, error) {
	var sb strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			return VariableType{}, fmt.Errorf("encoding: read variable type: %w", err)
		}
		sb.WriteByte(c)
		if c != '[' {
			if c == structTypePrefix {
				for {
					c2, err := r.ReadByte()
					if err != nil {
						return VariableType{}, fmt.Errorf("encoding: read struct type name: %w", err)
					}
					sb.WriteByte(c2)
					if c2 == ';' {
						break
					}
				}
			}
			break
		}
	}

	var t VariableType
	if err := t.SetFromEncoded(sb.String()); err != nil {
		return VariableType{}, err
	}

	idx, err := ReadVLE(r)
	if err != nil {
		return VariableType{}, fmt.Errorf("encoding: read variable type import index: %w", err)
	}
	if idx >= 0 {
		v := int(idx)
		t.ImportIndex = &v
	}
	return t, nil
}

// String renders the type the way the reference's to_string(variable_type)
// does: base name followed by one "[]" per array dimension.
func (t VariableType) String() string {
	var sb strings.Builder
	sb.WriteString(t.BaseType)
	for i := 0; i < t.ArrayDims; i++ {
		sb.WriteString("[]")
	}
	return sb.String()
}
