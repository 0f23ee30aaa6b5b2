package dbus

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/fenwick-labs/gobus/fragments"
)

// Marshal encodes v to the DBus wire format using the given byte
// order, returning the result as a new byte slice.
func Marshal(ctx context.Context, v any, ord fragments.ByteOrder) ([]byte, error) {
	return MarshalAppend(ctx, nil, v, ord)
}

// MarshalAppend encodes v to the DBus wire format, appending it to
// bs.
func MarshalAppend(ctx context.Context, bs []byte, v any, ord fragments.ByteOrder) ([]byte, error) {
	if v == nil {
		return nil, errors.New("dbus: cannot marshal nil interface")
	}
	val := reflect.ValueOf(v)
	enc, err := encoderFor(val.Type())
	if err != nil {
		return nil, err
	}
	st := fragments.Encoder{
		Order:  ord,
		Mapper: encoderFor,
		Out:    bs,
	}
	if err := enc(ctx, &st, val); err != nil {
		return nil, err
	}
	return st.Out, nil
}

// Unmarshal decodes a single DBus wire-format value from r into v,
// which must be a non-nil pointer.
//
// Unmarshal implements the type-directed decoding rules documented on
// [Unmarshaler], including vardict-aware struct decoding and Variant
// handling.
func Unmarshal(ctx context.Context, r io.Reader, ord fragments.ByteOrder, v any) error {
	if v == nil {
		return errors.New("dbus: cannot unmarshal into nil interface")
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return errors.New("dbus: cannot unmarshal into a non-pointer")
	}
	if val.IsNil() {
		return errors.New("dbus: cannot unmarshal into a nil pointer")
	}
	dec, err := decoderFor(val.Type().Elem())
	if err != nil {
		return err
	}
	st := fragments.Decoder{
		Order:  ord,
		Mapper: decoderFor,
		In:     r,
	}
	return dec(ctx, &st, val.Elem())
}
