package fragments

import (
	"context"
	"testing"
)

func TestEncoderPad(t *testing.T) {
	tests := []struct {
		name  string
		write func(e *Encoder)
		want  []byte
	}{
		{
			name: "uint8 then uint32 pads to 4",
			write: func(e *Encoder) {
				e.Uint8(1)
				e.Uint32(2)
			},
			want: []byte{1, 0, 0, 0, 2, 0, 0, 0},
		},
		{
			name: "already aligned uint64 does not pad",
			write: func(e *Encoder) {
				e.Uint64(1)
			},
			want: []byte{1, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "struct aligns to 8",
			write: func(e *Encoder) {
				e.Uint8(1)
				e.Struct(func() error {
					e.Uint8(2)
					return nil
				})
			},
			want: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &Encoder{Order: LittleEndian}
			tc.write(e)
			if string(e.Out) != string(tc.want) {
				t.Errorf("got % x, want % x", e.Out, tc.want)
			}
		})
	}
}

func TestEncoderString(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	e.String("hi")
	want := []byte{2, 0, 0, 0, 'h', 'i', 0}
	if string(e.Out) != string(want) {
		t.Errorf("got % x, want % x", e.Out, want)
	}
}

func TestEncoderArrayLengthPrefix(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	err := e.Array(false, func() error {
		e.Uint32(0xAABBCCDD)
		e.Uint32(0x11223344)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// length prefix (4 bytes) + 8 bytes of payload.
	if len(e.Out) != 12 {
		t.Fatalf("got %d bytes, want 12: % x", len(e.Out), e.Out)
	}
	gotLen := LittleEndian.Uint32(e.Out[:4])
	if gotLen != 8 {
		t.Errorf("array length prefix = %d, want 8", gotLen)
	}
}

func TestEncoderValueNoMapper(t *testing.T) {
	e := &Encoder{Order: LittleEndian}
	if err := e.Value(context.Background(), uint32(1)); err == nil {
		t.Error("Value with nil Mapper should fail")
	}
}
