package dbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"slices"

	"github.com/fenwick-labs/gobus/fragments"
)

// Marshaler is implemented by types that encode themselves to the
// DBus wire format.
//
// SignatureDBus and IsDBusStruct are invoked on zero values and must
// return constant values. MarshalDBus is responsible for inserting
// padding appropriate to the values it encodes, and for producing
// output that matches the shape declared by SignatureDBus and
// IsDBusStruct.
type Marshaler interface {
	SignatureDBus() Signature
	IsDBusStruct() bool
	MarshalDBus(ctx context.Context, e *fragments.Encoder) error
}

var marshalerType = reflect.TypeFor[Marshaler]()

var encoders cache[reflect.Type, fragments.EncoderFunc]

func encoderFor(t reflect.Type) (fragments.EncoderFunc, error) {
	return (&encoderGen{}).get(t)
}

// encoderGen builds an EncoderFunc for a reflect.Type, walking into
// nested container types as needed. It tracks the types currently
// under construction on its stack so a self-referential type is
// reported as an error instead of recursing forever.
type encoderGen struct {
	stack []reflect.Type
}

func (e *encoderGen) get(t reflect.Type) (ret fragments.EncoderFunc, err error) {
	if ret, err := encoders.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	if slices.Contains(e.stack, t) {
		return nil, typeErr(t, "recursive type")
	}
	e.stack = append(e.stack, t)
	defer func(t reflect.Type) {
		e.stack = e.stack[:len(e.stack)-1]
		if err != nil {
			encoders.SetErr(t, err)
		} else {
			encoders.Set(t, ret)
		}
	}(t)

	// A type whose pointer implements Marshaler can be encoded without
	// copying, as long as the value we're handed is addressable.
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType) {
		return e.newCondAddrMarshalEncoder(t), nil
	} else if t.Implements(marshalerType) {
		return e.newMarshalEncoder(), nil
	}

	switch t {
	case reflect.TypeFor[*os.File]():
		return e.newFileEncoder(), nil
	case reflect.TypeFor[ObjectPath]():
		return e.newObjectPathEncoder(), nil
	case reflect.TypeFor[Signature]():
		return e.newSignatureEncoder(), nil
	case reflect.TypeFor[any]():
		return e.newAnyEncoder(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return e.newPtrEncoder(t)
	case reflect.Bool:
		return e.newBoolEncoder(), nil
	case reflect.Int, reflect.Uint:
		return nil, typeErr(t, "int and uint aren't portable, use fixed width integers")
	case reflect.Int8:
		return nil, typeErr(t, "int8 has no corresponding DBus type, use uint8 instead")
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return e.newIntEncoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.newUintEncoder(t), nil
	case reflect.Float32:
		return nil, typeErr(t, "float32 has no corresponding DBus type, use float64 instead")
	case reflect.Float64:
		return e.newFloatEncoder(), nil
	case reflect.String:
		return e.newStringEncoder(), nil
	case reflect.Slice, reflect.Array:
		return e.newSliceEncoder(t)
	case reflect.Struct:
		return e.newStructEncoder(t)
	case reflect.Map:
		return e.newMapEncoder(t)
	}
	return nil, typeErr(t, "no dbus mapping for type")
}

func (e *encoderGen) newCondAddrMarshalEncoder(t reflect.Type) fragments.EncoderFunc {
	ptr := e.newMarshalEncoder()
	if t.Implements(marshalerType) {
		val := e.newMarshalEncoder()
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			if v.CanAddr() {
				return ptr(ctx, enc, v.Addr())
			}
			return val(ctx, enc, v)
		}
	}
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		if !v.CanAddr() {
			return typeErr(t, "Marshaler is only implemented on pointer receiver, and cannot take the address of given value")
		}
		return ptr(ctx, enc, v.Addr())
	}
}

func (e *encoderGen) newMarshalEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		return v.Interface().(Marshaler).MarshalDBus(ctx, enc)
	}
}

func (e *encoderGen) newFileEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		f := v.Interface().(*os.File)
		if f == nil {
			return errors.New("cannot marshal nil *os.File")
		}
		idx, err := contextPutFile(ctx, f)
		if err != nil {
			return err
		}
		enc.Uint32(idx)
		return nil
	}
}

func (e *encoderGen) newObjectPathEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		p := v.Interface().(ObjectPath)
		enc.String(string(p.Clean()))
		return nil
	}
}

func (e *encoderGen) newSignatureEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		s := v.Interface().(Signature).String()
		if len(s) > 255 {
			return errors.New("signature exceeds maximum length of 255 bytes")
		}
		enc.Uint8(uint8(len(s)))
		enc.Write([]byte(s))
		enc.Uint8(0)
		return nil
	}
}

func (e *encoderGen) newAnyEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return errors.New("cannot marshal nil interface value")
		}
		inner := v.Elem()
		sig, err := SignatureOf(inner.Interface())
		if err != nil {
			return err
		}
		if err := enc.Value(ctx, sig); err != nil {
			return err
		}
		return enc.Value(ctx, inner.Interface())
	}
}

func (e *encoderGen) newPtrEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	elemEnc, err := e.get(t.Elem())
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return elemEnc(ctx, enc, reflect.Zero(t.Elem()))
		}
		return elemEnc(ctx, enc, v.Elem())
	}, nil
}

func (e *encoderGen) newBoolEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		var val uint32
		if v.Bool() {
			val = 1
		}
		enc.Uint32(val)
		return nil
	}
}

func (e *encoderGen) newIntEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 2:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint16(uint16(v.Int()))
			return nil
		}
	case 4:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint32(uint32(v.Int()))
			return nil
		}
	case 8:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint64(uint64(v.Int()))
			return nil
		}
	default:
		panic("invalid newIntEncoder type")
	}
}

func (e *encoderGen) newUintEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 1:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint8(uint8(v.Uint()))
			return nil
		}
	case 2:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint16(uint16(v.Uint()))
			return nil
		}
	case 4:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint32(uint32(v.Uint()))
			return nil
		}
	case 8:
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			enc.Uint64(v.Uint())
			return nil
		}
	default:
		panic("invalid newUintEncoder type")
	}
}

func (e *encoderGen) newFloatEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		enc.Uint64(math.Float64bits(v.Float()))
		return nil
	}
}

func (e *encoderGen) newStringEncoder() fragments.EncoderFunc {
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		enc.String(v.String())
		return nil
	}
}

func (e *encoderGen) newSliceEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	if t.Elem().Kind() == reflect.Uint8 {
		return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
			return enc.Bytes(v.Bytes())
		}, nil
	}

	elemEnc, err := e.get(t.Elem())
	if err != nil {
		return nil, err
	}
	isStruct := alignAsStruct(t.Elem())

	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		return enc.Array(isStruct, func() error {
			for i := 0; i < v.Len(); i++ {
				if err := elemEnc(ctx, enc, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

func (e *encoderGen) newStructEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	fs, err := getStructInfo(t)
	if err != nil {
		return nil, fmt.Errorf("getting struct info for %s: %w", t, err)
	}

	var frags []fragments.EncoderFunc
	for _, f := range fs.StructFields {
		fEnc, err := e.newStructFieldEncoder(f)
		if err != nil {
			return nil, err
		}
		frags = append(frags, fEnc)
	}

	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		fields := func() error {
			for _, frag := range frags {
				if err := frag(ctx, enc, v); err != nil {
					return err
				}
			}
			return nil
		}
		if fs.NoPad {
			return fields()
		}
		return enc.Struct(fields)
	}, nil
}

// newStructFieldEncoder returns an encoder that, given the *whole*
// struct value, encodes just the field f.
func (e *encoderGen) newStructFieldEncoder(f *structField) (fragments.EncoderFunc, error) {
	if f.IsVarDict() {
		return e.newVarDictFieldEncoder(f)
	}

	fEnc, err := e.get(f.Type)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		return fEnc(ctx, enc, f.GetWithZero(v))
	}, nil
}

// newVarDictFieldEncoder returns an encoder that, given the *whole*
// struct value, encodes the vardict field f: first its associated
// fields (skipping zero values unless tagged encodeZero), then any
// remaining entries of the underlying map in key order.
func (e *encoderGen) newVarDictFieldEncoder(f *structField) (fragments.EncoderFunc, error) {
	kEnc, err := e.get(f.Type.Key())
	if err != nil {
		return nil, err
	}
	vEnc, err := e.get(reflect.TypeFor[any]())
	if err != nil {
		return nil, err
	}
	kCmp := f.VarDictKeyCmp()

	fieldKeys := f.VarDictFields.MapKeys()
	slices.SortFunc(fieldKeys, kCmp)
	var varDictFields []*varDictField
	for _, k := range fieldKeys {
		varDictFields = append(varDictFields, f.VarDictField(k))
	}

	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		return enc.Array(true, func() error {
			for _, vf := range varDictFields {
				fv := vf.GetWithZero(v)
				if fv.IsZero() && !vf.EncodeZero {
					continue
				}
				err := enc.Struct(func() error {
					if err := kEnc(ctx, enc, vf.Key); err != nil {
						return err
					}
					var a any
					va := reflect.ValueOf(&a).Elem()
					va.Set(fv)
					return vEnc(ctx, enc, va)
				})
				if err != nil {
					return err
				}
			}

			other := f.GetWithZero(v)
			ks := other.MapKeys()
			slices.SortFunc(ks, kCmp)
			for _, mapKey := range ks {
				mapVal := other.MapIndex(mapKey)
				err := enc.Struct(func() error {
					if err := kEnc(ctx, enc, mapKey); err != nil {
						return err
					}
					return vEnc(ctx, enc, mapVal)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}

func (e *encoderGen) newMapEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	kt := t.Key()
	if !mapKeyKinds.Has(kt.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", kt)
	}
	kEnc, err := e.get(kt)
	if err != nil {
		return nil, err
	}
	vt := t.Elem()
	vEnc, err := e.get(vt)
	if err != nil {
		return nil, err
	}
	kCmp := keyCodecFor(kt).cmp

	return func(ctx context.Context, enc *fragments.Encoder, v reflect.Value) error {
		ks := v.MapKeys()
		slices.SortFunc(ks, kCmp)
		return enc.Array(true, func() error {
			for _, mk := range ks {
				mv := v.MapIndex(mk)
				err := enc.Struct(func() error {
					if err := kEnc(ctx, enc, mk); err != nil {
						return err
					}
					return vEnc(ctx, enc, mv)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}, nil
}
