package dbus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/fenwick-labs/gobus/fragments"
)

// maxContainerDepth bounds how deeply arrays or structs may nest
// inside a single type signature, and maxTotalDepth bounds the sum of
// both kinds of nesting. Both limits match the D-Bus specification
// and exist to keep a hostile signature from blowing the parser's
// stack.
const (
	maxContainerDepth = 32
	maxTotalDepth     = 64
)

// A Signature describes the wire type of a DBus value, or the
// sequence of types making up a DBus message body.
type Signature struct {
	parts []reflect.Type
}

func mkSignature(parts ...reflect.Type) Signature {
	return Signature{parts}
}

// ParseSignature parses a DBus type signature string into a
// Signature, enforcing the maximum container nesting depth.
func ParseSignature(sig string) (Signature, error) {
	p := &sigParser{orig: sig}
	var ret Signature
	rest := sig
	for rest != "" {
		part, tail, err := p.parseOne(rest, false, 0, 0, 0)
		if err != nil {
			return Signature{}, err
		}
		ret.parts = append(ret.parts, part)
		rest = tail
	}
	return ret, nil
}

func mustParseSignature(sig string) Signature {
	ret, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

type sigParser struct {
	orig string
}

func (p *sigParser) err(reason string, args ...any) error {
	return InvalidSignatureError{Signature: p.orig, Reason: fmt.Sprintf(reason, args...)}
}

// parseOne consumes the first complete type from the front of sig,
// tracking container depth so it can refuse to chase a maliciously
// deep signature. arrayDepth and structDepth each count toward
// maxContainerDepth separately; totalDepth counts all nesting toward
// maxTotalDepth.
func (p *sigParser) parseOne(sig string, inArray bool, arrayDepth, structDepth, totalDepth int) (reflect.Type, string, error) {
	if sig == "" {
		return nil, "", p.err("unexpected end of signature")
	}
	if ret, ok := strToType[sig[0]]; ok {
		return ret, sig[1:], nil
	}

	switch sig[0] {
	case 'a':
		if arrayDepth+1 > maxContainerDepth || totalDepth+1 > maxTotalDepth {
			return nil, "", p.err("exceeds maximum nesting depth")
		}
		isDict := len(sig) > 1 && sig[1] == '{'
		elem, rest, err := p.parseOne(sig[1:], true, arrayDepth+1, structDepth, totalDepth+1)
		if err != nil {
			return nil, "", err
		}
		if isDict {
			return elem, rest, nil // sub-parser already produced a map
		}
		return reflect.SliceOf(elem), rest, nil
	case '(':
		if structDepth+1 > maxContainerDepth || totalDepth+1 > maxTotalDepth {
			return nil, "", p.err("exceeds maximum nesting depth")
		}
		var fields []reflect.Type
		rest := sig[1:]
		for rest != "" && rest[0] != ')' {
			var field reflect.Type
			var err error
			field, rest, err = p.parseOne(rest, false, arrayDepth, structDepth+1, totalDepth+1)
			if err != nil {
				return nil, "", err
			}
			fields = append(fields, field)
		}
		if rest == "" {
			return nil, "", p.err("missing closing ) in struct definition")
		}
		fs := make([]reflect.StructField, len(fields))
		for i, f := range fields {
			fs[i] = reflect.StructField{Name: fmt.Sprintf("Field%d", i), Type: f}
		}
		return reflect.StructOf(fs), rest[1:], nil
	case '{':
		if !inArray {
			return nil, "", p.err("dict entry type found outside array")
		}
		key, rest, err := p.parseOne(sig[1:], false, arrayDepth, structDepth, totalDepth+1)
		if err != nil {
			return nil, "", err
		}
		if !mapKeyKinds.Has(key.Kind()) {
			return nil, "", p.err("invalid dict entry key type %s, must be a dbus basic type", key)
		}
		val, rest, err := p.parseOne(rest, false, arrayDepth, structDepth, totalDepth+1)
		if err != nil {
			return nil, "", err
		}
		if rest == "" || rest[0] != '}' {
			return nil, "", p.err("missing closing } in dict entry definition")
		}
		return reflect.MapOf(key, val), rest[1:], nil
	default:
		return nil, "", p.err("unknown type specifier %q", sig[0])
	}
}

// String returns the string encoding of the Signature.
func (s Signature) String() string {
	switch len(s.parts) {
	case 0:
		return ""
	case 1:
		return stringForType(s.parts[0])
	default:
		ret := make([]string, len(s.parts))
		for i, p := range s.parts {
			ret[i] = stringForType(p)
		}
		return strings.Join(ret, "")
	}
}

func stringForType(t reflect.Type) string {
	if ret := typeToStr[t]; ret != 0 {
		return string(ret)
	}
	if ret := kindToStr[t.Kind()]; ret != 0 {
		return string(ret)
	}

	switch t.Kind() {
	case reflect.Slice:
		return "a" + stringForType(t.Elem())
	case reflect.Map:
		return fmt.Sprintf("a{%s%s}", stringForType(t.Key()), stringForType(t.Elem()))
	case reflect.Struct:
		var ret []string
		fs, err := getStructInfo(t)
		if err != nil {
			panic(fmt.Sprintf("printing Signature for %s: %v", t, err))
		}
		for _, f := range fs.StructFields {
			ret = append(ret, stringForType(f.Type))
		}
		return fmt.Sprintf("(%s)", strings.Join(ret, ""))
	default:
		panic(fmt.Sprintf("unknown signature type %s", t))
	}
}

func (s Signature) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	str := s.String()
	if len(str) > 255 {
		return fmt.Errorf("signature exceeds maximum length of 255 bytes")
	}
	e.Uint8(uint8(len(str)))
	e.Write([]byte(str))
	e.Uint8(0)
	return nil
}

func (s *Signature) UnmarshalDBus(ctx context.Context, st *fragments.Decoder) error {
	u8, err := st.Uint8()
	if err != nil {
		return err
	}
	bs, err := st.Read(int(u8) + 1)
	if err != nil {
		return err
	}
	*s, err = ParseSignature(string(bs[:len(bs)-1]))
	return err
}

func (s Signature) IsDBusStruct() bool { return false }

var signatureSignature = mkSignature(reflect.TypeFor[Signature]())

func (s Signature) SignatureDBus() Signature { return signatureSignature }

// IsZero reports whether the signature is the zero value. A zero
// Signature describes a void value.
func (s Signature) IsZero() bool { return len(s.parts) == 0 }

// IsSingle reports whether the signature contains a single complete
// type, as opposed to being a multi-type message signature.
func (s Signature) IsSingle() bool { return len(s.parts) == 1 }

func (s Signature) onlyType() reflect.Type {
	if !s.IsSingle() {
		panic("onlyType called on non-single signature")
	}
	return s.parts[0]
}

// Parts iterates over the component parts of a DBus type signature.
//
// For a signature representing a single Go type, the iterator yields
// a single value. For a signature describing a DBus message, the
// iterator yields the Signature of each field in sequence.
func (s Signature) Parts() iter.Seq[Signature] {
	return func(yield func(Signature) bool) {
		for _, p := range s.parts {
			if !yield(mkSignature(p)) {
				return
			}
		}
	}
}

// Type returns the reflect.Type the Signature represents.
func (s Signature) Type() reflect.Type {
	if s.IsZero() {
		return nil
	}
	if s.IsSingle() {
		return s.parts[0]
	}
	fs := make([]reflect.StructField, len(s.parts))
	for i, p := range s.parts {
		fs[i] = reflect.StructField{Name: fmt.Sprintf("Field%d", i), Type: p}
	}
	return reflect.StructOf(fs)
}

// asMsgBody flattens a signature describing a single Go struct into
// the multi-part signature DBus uses for a message body: message
// bodies are encoded exactly like a struct (same alignment, fields in
// order) but their wire signature lists the field types directly,
// without the enclosing struct parentheses.
func (s Signature) asMsgBody() Signature {
	if s.IsSingle() && s.parts[0].Kind() == reflect.Struct {
		info, err := getStructInfo(s.parts[0])
		if err == nil {
			parts := make([]reflect.Type, len(info.StructFields))
			for i, f := range info.StructFields {
				parts[i] = f.Type
			}
			return Signature{parts}
		}
	}
	return s
}

// Value returns a new addressable reflect.Value of the type the
// signature represents.
func (s Signature) Value() reflect.Value {
	t := s.Type()
	if t == nil {
		return reflect.Value{}
	}
	return reflect.New(t).Elem()
}

type signer interface {
	SignatureDBus() Signature
}

var signerType = reflect.TypeFor[signer]()

var signatures cache[reflect.Type, Signature]

// SignatureFor returns the Signature for the given type.
func SignatureFor[T any]() (Signature, error) {
	return signatureOfChecked(reflect.TypeFor[T]())
}

// SignatureOf returns the Signature for the given value.
func SignatureOf(v any) (Signature, error) {
	return signatureOfChecked(reflect.TypeOf(v))
}

func signatureOfChecked(t reflect.Type) (Signature, error) {
	g := &sigGen{}
	return g.get(t)
}

// sigGen computes signatures with explicit, stack-based cycle
// detection: the same approach used by the encoder generator, so
// both fail with an error on a self-referential type instead of
// recursing forever.
type sigGen struct {
	stack []reflect.Type
}

func (g *sigGen) get(t reflect.Type) (ret Signature, err error) {
	if ret, err := signatures.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return Signature{}, err
	}
	for _, s := range g.stack {
		if s == t {
			return Signature{}, typeErr(t, "recursive type")
		}
	}
	g.stack = append(g.stack, t)
	defer func(t reflect.Type) {
		g.stack = g.stack[:len(g.stack)-1]
		if err != nil {
			signatures.SetErr(t, err)
		} else {
			signatures.Set(t, ret)
		}
	}(t)

	return g.uncached(t)
}

func (g *sigGen) uncached(t reflect.Type) (Signature, error) {
	if t == nil {
		return Signature{}, typeErr(t, "nil interface")
	}

	// Deref all but one level of pointers, to check for Marshaler/Unmarshaler.
	pt := t
	for pt.Kind() == reflect.Pointer {
		pt = pt.Elem()
	}
	pt = reflect.PointerTo(pt)

	if pt.Implements(marshalerType) || pt.Implements(unmarshalerType) {
		if pt.Elem().Implements(signerType) {
			return reflect.Zero(pt.Elem()).Interface().(signer).SignatureDBus(), nil
		}
		return reflect.Zero(pt).Interface().(signer).SignatureDBus(), nil
	}

	// Strip off the last pointer layer; everything below operates on
	// the leaf type.
	lt := pt.Elem()

	if ret := kindToType[lt.Kind()]; ret != nil {
		return mkSignature(ret), nil
	}

	switch lt.Kind() {
	case reflect.Slice, reflect.Array:
		es, err := g.get(lt.Elem())
		if err != nil {
			return Signature{}, err
		}
		return mkSignature(reflect.SliceOf(es.onlyType())), nil
	case reflect.Map:
		k := lt.Key()
		if k == variantType {
			return Signature{}, typeErr(lt, "map keys cannot be Variants")
		}
		switch k.Kind() {
		case reflect.Slice:
			return Signature{}, typeErr(lt, "map keys cannot be slices")
		case reflect.Array:
			return Signature{}, typeErr(lt, "map keys cannot be arrays")
		case reflect.Struct:
			return Signature{}, typeErr(lt, "map keys cannot be structs")
		}
		ks, err := g.get(k)
		if err != nil {
			return Signature{}, err
		}
		vs, err := g.get(lt.Elem())
		if err != nil {
			return Signature{}, err
		}
		return mkSignature(reflect.MapOf(ks.onlyType(), vs.onlyType())), nil
	case reflect.Struct:
		fs, err := getStructInfo(lt)
		if err != nil {
			return Signature{}, typeErr(lt, "getting struct info: %v", err)
		}
		if len(fs.StructFields) == 0 {
			return Signature{}, typeErr(lt, "empty struct")
		}
		for _, f := range fs.StructFields {
			// Descend through all fields, to surface cyclic references
			// and populate the cache for nested types.
			if _, err := g.get(f.Type); err != nil {
				return Signature{}, err
			}
		}
		return mkSignature(lt), nil
	}

	return Signature{}, typeErr(lt, "no mapping available")
}
