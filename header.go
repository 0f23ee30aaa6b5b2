package dbus

import (
	"context"
	"fmt"

	"github.com/fenwick-labs/gobus/fragments"
)

// byteOrder wraps the fragments package's byte order mark so it can
// be a struct field of header.
type byteOrder bool

func (*byteOrder) SignatureDBus() Signature {
	ret, _ := SignatureFor[uint8]()
	return ret
}

func (*byteOrder) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	e.ByteOrderFlag()
	return nil
}

func (b *byteOrder) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	d.ByteOrderFlag()
	*b = d.Order == fragments.BigEndian
	return nil
}

// msgType is the type of a DBus message.
type msgType byte

const (
	msgTypeCall msgType = iota + 1
	msgTypeReturn
	msgTypeError
	msgTypeSignal
)

// structAlign is a zero-length struct field that forces padding to
// 8-byte struct alignment. It sits at the end of the DBus header,
// which the spec requires to be padded before the body begins.
type structAlign struct{}

func (*structAlign) SignatureDBus() Signature { return Signature{} }

func (*structAlign) MarshalDBus(_ context.Context, e *fragments.Encoder) error {
	e.Pad(8)
	return nil
}

func (*structAlign) UnmarshalDBus(_ context.Context, d *fragments.Decoder) error {
	d.Pad(8)
	return nil
}

// header is a DBus message header, including its variable-length
// field array.
type header struct {
	Order   byteOrder
	Type    msgType
	Flags   byte
	Version uint8
	// Length is the length of the message body, not including the
	// header or header-to-body padding.
	Length uint32
	// Serial must be nonzero and unique among a connection's
	// in-flight messages.
	Serial uint32

	// Path is the target object for a call, or the source object for
	// a signal. Required for msgTypeCall and msgTypeSignal.
	Path ObjectPath `dbus:"key=1"`
	// Interface is the target interface for a call, or the source
	// interface for a signal. Required for msgTypeSignal, optional
	// (but conventionally present) for msgTypeCall.
	Interface string `dbus:"key=2"`
	// Member is the method name for a call, or signal name for a
	// signal. Required for msgTypeCall and msgTypeSignal.
	Member string `dbus:"key=3"`
	// ErrName is the name of the error that occurred. Required for
	// msgTypeError.
	ErrName string `dbus:"key=4"`
	// ReplySerial is the serial this message is replying to. Required
	// for msgTypeReturn and msgTypeError.
	ReplySerial uint32 `dbus:"key=5"`
	// Destination is the target bus name. Optional for signals,
	// required for everything else sent through a message bus.
	Destination string `dbus:"key=6"`
	// Sender is populated by the message bus with the sending
	// client's unique name. Any value sent by the client is ignored.
	Sender string `dbus:"key=7"`
	// Signature is the type signature of the message body. Required
	// if a body is present.
	Signature Signature `dbus:"key=8"`
	// NumFDs is the number of file descriptors sent alongside the
	// message. Required if any are attached.
	NumFDs uint32 `dbus:"key=9"`

	// Unknown collects header fields this implementation doesn't
	// recognize, so they round-trip through a proxy unmolested.
	Unknown map[uint8]any `dbus:"vardict"`

	Align structAlign
}

// Valid checks that the header carries the fields its message Type
// requires.
func (h *header) Valid() error {
	if h.Serial == 0 {
		return fmt.Errorf("invalid message with zero Serial")
	}
	switch h.Type {
	case 0:
		return fmt.Errorf("invalid message with Type 0")
	case msgTypeCall:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if h.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	case msgTypeReturn:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
	case msgTypeError:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
		if h.ErrName == "" {
			return fmt.Errorf("missing required header field ErrName")
		}
	case msgTypeSignal:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if h.Interface == "" {
			return fmt.Errorf("missing required header field Interface")
		}
		if h.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	default:
		// The spec requires gracefully accepting message types we
		// don't recognize.
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (h *header) WantReply() bool {
	return h.Type == msgTypeCall && h.Flags&0x1 == 0
}

// CanInteract reports whether the message's sender is prepared to
// wait out an interactive authorization prompt.
func (h header) CanInteract() bool {
	return h.Type == msgTypeCall && h.Flags&0x4 != 0
}
