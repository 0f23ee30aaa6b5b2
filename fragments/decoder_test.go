package fragments

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func newDecoder(bs []byte) *Decoder {
	return &Decoder{Order: LittleEndian, In: bytes.NewReader(bs)}
}

func TestDecoderPadRoundTrip(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.Uint8(1)
	e.Uint32(0xDEADBEEF)

	d := newDecoder(e.Out)
	u8, err := d.Uint8()
	if err != nil || u8 != 1 {
		t.Fatalf("Uint8() = %d, %v", u8, err)
	}
	u32, err := d.Uint32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("Uint32() = %x, %v", u32, err)
	}
}

func TestDecoderString(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.String("hello")
	d := newDecoder(e.Out)
	s, err := d.String()
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello" {
		t.Errorf("String() = %q, want %q", s, "hello")
	}
}

func TestDecoderArray(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.Array(false, func() error {
		e.Uint32(1)
		e.Uint32(2)
		e.Uint32(3)
		return nil
	})

	d := newDecoder(e.Out)
	var got []uint32
	n, err := d.Array(false, func(i int) error {
		v, err := d.Uint32()
		if err != nil {
			return err
		}
		got = append(got, v)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || len(got) != 3 {
		t.Fatalf("decoded %d elements, want 3: %v", n, got)
	}
	for i, v := range got {
		if v != uint32(i+1) {
			t.Errorf("element %d = %d, want %d", i, v, i+1)
		}
	}
}

func TestDecoderTruncated(t *testing.T) {
	d := newDecoder([]byte{1, 2})
	_, err := d.Uint32()
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("got err %v, want wrapping ErrTruncated", err)
	}
}

func TestDecoderArrayTooLong(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.Uint32(MaxArrayLength + 1)
	d := newDecoder(e.Out)
	_, err := d.Array(false, func(int) error { return nil })
	if _, ok := err.(ArrayTooLongError); !ok {
		t.Errorf("Array() error = %v (%T), want ArrayTooLongError", err, err)
	}
}

func TestDecoderBytesTooLong(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.Uint32(MaxArrayLength + 1)
	d := newDecoder(e.Out)
	_, err := d.Bytes()
	if _, ok := err.(ArrayTooLongError); !ok {
		t.Errorf("Bytes() error = %v (%T), want ArrayTooLongError", err, err)
	}
}

func TestDecoderByteOrderFlag(t *testing.T) {
	d := newDecoder([]byte{'B'})
	if err := d.ByteOrderFlag(); err != nil {
		t.Fatal(err)
	}
	if d.Order != BigEndian {
		t.Errorf("Order = %v, want BigEndian", d.Order)
	}

	d = newDecoder([]byte{'x'})
	if err := d.ByteOrderFlag(); err == nil {
		t.Error("expected error for unknown byte order flag")
	}
}

func TestDecoderReadEOF(t *testing.T) {
	d := &Decoder{Order: LittleEndian, In: io.LimitReader(bytes.NewReader(nil), 0)}
	if _, err := d.Read(1); !errors.Is(err, ErrTruncated) {
		t.Errorf("Read on empty stream = %v, want ErrTruncated", err)
	}
}
