package dbus

import (
	"bytes"
	"context"
	"testing"

	"github.com/fenwick-labs/gobus/fragments"
)

func decodeString(t *testing.T, wire string) (string, error) {
	t.Helper()
	enc := &fragments.Encoder{Order: fragments.LittleEndian}
	enc.String(wire)
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}
	var s string
	err := dec.Value(context.Background(), &s)
	return s, err
}

func TestDecodeStringRejectsEmbeddedNul(t *testing.T) {
	_, err := decodeString(t, "hello\x00world")
	if _, ok := err.(EmbeddedNulError); !ok {
		t.Errorf("decoding a string with an embedded NUL = %v (%T), want EmbeddedNulError", err, err)
	}
}

func TestDecodeStringRejectsBadUTF8(t *testing.T) {
	_, err := decodeString(t, "hello\xffworld")
	if _, ok := err.(BadUTF8Error); !ok {
		t.Errorf("decoding invalid UTF-8 = %v (%T), want BadUTF8Error", err, err)
	}
}

func TestDecodeStringAcceptsValidInput(t *testing.T) {
	got, err := decodeString(t, "hello, world")
	if err != nil {
		t.Fatalf("decoding a valid string: %v", err)
	}
	if got != "hello, world" {
		t.Errorf("got %q, want %q", got, "hello, world")
	}
}

func TestDecodeSliceRejectsOverlongArray(t *testing.T) {
	enc := &fragments.Encoder{Order: fragments.LittleEndian}
	enc.Uint32(fragments.MaxArrayLength + 1)
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}
	var bs []byte
	err := dec.Value(context.Background(), &bs)
	if _, ok := err.(ArrayTooLongError); !ok {
		t.Errorf("decoding an overlong array = %v (%T), want ArrayTooLongError", err, err)
	}
}
