package dbus

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// InlineLayout marks a struct as inlined: a struct with a field of
// type InlineLayout is laid out in DBus messages without the usual
// 8-byte struct alignment.
type InlineLayout struct{}

// structField describes one struct field that participates in DBus
// marshaling.
type structField struct {
	Name  string
	Index [][]int
	Type  reflect.Type

	// VarDictFields holds the key-specific fields associated with this
	// field, when it is a vardict (map[K]any) field. It is always of
	// type map[K]*varDictField, stored as reflect.Value because K is
	// only known at runtime.
	VarDictFields reflect.Value
}

func (f *structField) IsVarDict() bool { return f.VarDictFields.IsValid() }

func (f *structField) VarDictKeyCmp() func(a, b reflect.Value) int {
	return keyCodecFor(f.Type.Key()).cmp
}

// VarDictField returns the field registered under the given vardict
// key, or nil if the key has no dedicated field.
func (f *structField) VarDictField(key reflect.Value) *varDictField {
	ret := f.VarDictFields.MapIndex(key)
	if ret.IsZero() {
		return nil
	}
	return ret.Interface().(*varDictField)
}

// GetWithZero reads the field out of structVal. If a nil pointer
// blocks the traversal into an embedded struct, it returns a
// non-settable zero value instead of panicking.
func (f *structField) GetWithZero(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				return reflect.Zero(f.Type)
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

// GetWithAlloc reads the field out of structVal, allocating any nil
// embedded struct pointers along the way. The result is settable.
func (f *structField) GetWithAlloc(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

func (f *structField) String() string {
	var ret strings.Builder
	kindStr := ""
	if ks := f.Type.Kind().String(); ks != f.Type.String() {
		kindStr = fmt.Sprintf(" (%s)", ks)
	}
	fmt.Fprintf(&ret, "%s: %s%s at %v", f.Name, f.Type, kindStr, f.Index)
	if f.VarDictFields.IsValid() {
		ret.WriteString(", vardict fields:")
		ks := f.VarDictFields.MapKeys()
		slices.SortFunc(ks, keyCodecFor(f.VarDictFields.Type().Key()).cmp)
		for _, k := range ks {
			v := f.VarDictField(k)
			encodeZero := ""
			if v.EncodeZero {
				encodeZero = "(encode zero) "
			}
			fmt.Fprintf(&ret, "\n  %v: %s%s", v.StrKey, v, encodeZero)
		}
	}
	return ret.String()
}

// varDictField is a strongly-typed alias for one key of a vardict,
// letting a struct declare e.g. a Timeout int32 field backed by
// vardict key "timeout" instead of forcing callers through the raw
// map[string]any.
type varDictField struct {
	*structField
	Key    reflect.Value
	StrKey string
	// EncodeZero, if true, encodes the zero value of this field into
	// the vardict instead of treating it as unset.
	EncodeZero bool
}

// structInfo is the marshaling-relevant shape of a struct type.
type structInfo struct {
	Name string
	Type reflect.Type
	// NoPad requests alignment to the first encoded field's natural
	// alignment, instead of the standard 8-byte struct alignment.
	NoPad bool

	StructFields []*structField
}

func (s *structInfo) String() string {
	var ret strings.Builder
	name, typ := s.Name, s.Type.String()
	if s.Type.Kind() == reflect.Struct {
		typ = "struct"
	}
	fmt.Fprintf(&ret, "%s: %s, fields:\n", name, typ)
	for _, f := range s.StructFields {
		ret.WriteString(f.String())
		ret.WriteByte('\n')
	}
	return ret.String()
}

// structTag is the parsed form of a field's `dbus:"..."` struct tag.
type structTag struct {
	encodeZero bool
	isVardict  bool
	vardictKey string
}

func parseStructTag(field reflect.StructField) structTag {
	var tag structTag
	for _, f := range strings.Split(field.Tag.Get("dbus"), ",") {
		switch {
		case f == "encodeZero":
			tag.encodeZero = true
		case f == "vardict":
			tag.isVardict = true
		case strings.HasPrefix(f, "key="):
			val := strings.TrimPrefix(f, "key=")
			if val == "@" {
				tag.vardictKey = field.Name
			} else {
				tag.vardictKey = val
			}
		}
	}
	return tag
}

// getStructInfo returns the structInfo for t, or an error if t is not
// a struct or is malformed in a way that makes it unusable for DBus
// messaging (e.g. a vardict key collision).
func getStructInfo(t reflect.Type) (*structInfo, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}

	ret := &structInfo{Name: t.String(), Type: t}

	var (
		varDictMap    *structField
		varDictFields []*varDictField
	)
	for field := range structFields(t, nil) {
		if !field.IsExported() {
			if field.Type == reflect.TypeFor[InlineLayout]() {
				ret.NoPad = true
			}
			continue
		}

		tag := parseStructTag(field)
		fieldInfo := &structField{
			Name:  field.Name,
			Type:  field.Type,
			Index: allocSteps(t, field.Index),
		}

		switch {
		case tag.isVardict:
			if !isValidVarDictMapType(fieldInfo.Type) {
				return nil, fmt.Errorf("vardict map %s.%s must be a map[K]any", ret.Name, fieldInfo.Name)
			}
			fieldInfo.VarDictFields = reflect.MakeMap(reflect.MapOf(
				fieldInfo.Type.Key(),
				reflect.TypeFor[*varDictField]()))
			varDictMap = fieldInfo
			ret.StructFields = append(ret.StructFields, fieldInfo)
		case tag.vardictKey != "":
			varDictFields = append(varDictFields, &varDictField{
				structField: fieldInfo,
				StrKey:      tag.vardictKey,
				EncodeZero:  tag.encodeZero,
			})
		default:
			ret.StructFields = append(ret.StructFields, fieldInfo)
		}
	}

	if len(varDictFields) == 0 {
		return ret, nil
	}

	if varDictMap == nil {
		return nil, fmt.Errorf("vardict fields declared in struct %s, but no map[K]any tagged with 'vardict'", ret.Name)
	}

	seen := map[string]*varDictField{}
	keyCodec := keyCodecFor(varDictMap.Type.Key())
	for _, f := range varDictFields {
		v, err := keyCodec.parse(f.StrKey)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q for vardict field %s.%s (expected type %s): %w", f.StrKey, ret.Name, f.Name, varDictMap.Type.Key(), err)
		}

		// fmt.Sprint(v), not v.String(): reflect.Value.String() only
		// prints the underlying value for strings and Stringers.
		canonicalKey := fmt.Sprint(v)
		f.Key = v
		if prev := seen[canonicalKey]; prev != nil {
			return nil, fmt.Errorf("duplicate vardict key %q (canonicalized from %q) in struct %s, used by %s and %s", canonicalKey, f.StrKey, ret.Name, f.Name, prev.Name)
		}
		seen[canonicalKey] = f
		f.StrKey = canonicalKey
		varDictMap.VarDictFields.SetMapIndex(f.Key, reflect.ValueOf(f))
	}

	return ret, nil
}

func isValidVarDictMapType(t reflect.Type) bool {
	return t.Kind() == reflect.Map && mapKeyKinds.Has(t.Key().Kind()) && t.Elem() == reflect.TypeFor[any]()
}

// keyCodec converts between string struct-tag keys and the strongly
// typed reflect.Values used as vardict map keys, and orders those
// values for deterministic iteration.
type keyCodec struct {
	parse func(string) (reflect.Value, error)
	cmp   func(a, b reflect.Value) int
}

func keyCodecFor(t reflect.Type) keyCodec {
	if !mapKeyKinds.Has(t.Kind()) {
		panic("keyCodecFor called on type that can't be a map key")
	}

	switch t.Kind() {
	case reflect.Bool:
		return keyCodec{
			parse: func(s string) (reflect.Value, error) {
				b, err := strconv.ParseBool(s)
				return reflect.ValueOf(b), err
			},
			cmp: func(a, b reflect.Value) int {
				switch {
				case a.Bool() == b.Bool():
					return 0
				case !a.Bool():
					return -1
				default:
					return 1
				}
			},
		}
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return keyCodec{
			parse: func(s string) (reflect.Value, error) {
				i64, err := strconv.ParseInt(s, 10, int(t.Size())*8)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(i64).Convert(t), nil
			},
			cmp: func(a, b reflect.Value) int { return cmp.Compare(a.Int(), b.Int()) },
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return keyCodec{
			parse: func(s string) (reflect.Value, error) {
				u64, err := strconv.ParseUint(s, 10, int(t.Size())*8)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(u64).Convert(t), nil
			},
			cmp: func(a, b reflect.Value) int { return cmp.Compare(a.Uint(), b.Uint()) },
		}
	case reflect.Float32, reflect.Float64:
		return keyCodec{
			parse: func(s string) (reflect.Value, error) {
				f64, err := strconv.ParseFloat(s, int(t.Size())*8)
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(f64).Convert(t), nil
			},
			cmp: func(a, b reflect.Value) int { return cmp.Compare(a.Float(), b.Float()) },
		}
	case reflect.String:
		return keyCodec{
			parse: func(s string) (reflect.Value, error) { return reflect.ValueOf(s), nil },
			cmp:   func(a, b reflect.Value) int { return cmp.Compare(a.String(), b.String()) },
		}
	default:
		panic(fmt.Sprintf("invalid dbus map key type %s", t))
	}
}

// allocSteps partitions a multi-hop field traversal into segments
// that each end either at the final field, or at a struct pointer
// that might be nil, so GetWithZero/GetWithAlloc can check for nils
// between segments.
func allocSteps(t reflect.Type, idx []int) [][]int {
	var ret [][]int
	prev := 0
	t = t.Field(idx[0]).Type
	for i := 1; i < len(idx); i++ {
		if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
			ret = append(ret, idx[prev:i])
			prev = i
			t = t.Elem()
		}
		t = t.Field(idx[i]).Type
	}
	ret = append(ret, idx[prev:])
	return ret
}

// alignAsStruct reports whether t aligns like a DBus struct, i.e. to
// an 8 byte boundary.
func alignAsStruct(t reflect.Type) bool {
	t = derefType(t)
	if t.Kind() != reflect.Struct {
		return false
	}
	fs, err := getStructInfo(t)
	if err != nil {
		panic(err)
	}
	return !fs.NoPad
}

func structFields(t reflect.Type, idx []int) iter.Seq[reflect.StructField] {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			f := t.Field(i)
			idx = append(idx, i)
			if f.Anonymous {
				at := f.Type
				if at.Kind() == reflect.Pointer {
					at = at.Elem()
				}
				if at.Kind() == reflect.Struct {
					for af := range structFields(at, idx) {
						if !yield(af) {
							return
						}
					}
					idx = idx[:len(idx)-1]
					continue
				}
			}
			f.Index = append([]int(nil), idx...)
			if !yield(f) {
				return
			}
			idx = idx[:len(idx)-1]
		}
	}
}
