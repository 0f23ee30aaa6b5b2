package dbus

import (
	"fmt"
	"net"
	"reflect"

	"github.com/fenwick-labs/gobus/fragments"
)

// TypeError is returned when a Go type cannot be represented in the
// DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error { return e.Reason }

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// InvalidSignatureError is returned when a type signature string
// fails to parse: an unknown type code, unbalanced brackets, an empty
// array element type, or a nesting depth overflow.
type InvalidSignatureError struct {
	Signature string
	Reason    string
}

func (e InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid type signature %q: %s", e.Signature, e.Reason)
}

// InvalidObjectPathError is returned when a string does not satisfy
// the object path grammar.
type InvalidObjectPathError struct {
	Path   string
	Reason string
}

func (e InvalidObjectPathError) Error() string {
	return fmt.Sprintf("invalid object path %q: %s", e.Path, e.Reason)
}

// InvalidBusNameError is returned when a string does not satisfy the
// bus name grammar.
type InvalidBusNameError struct {
	Name   string
	Reason string
}

func (e InvalidBusNameError) Error() string {
	return fmt.Sprintf("invalid bus name %q: %s", e.Name, e.Reason)
}

// InvalidInterfaceNameError is returned when a string does not
// satisfy the interface name grammar.
type InvalidInterfaceNameError struct {
	Name   string
	Reason string
}

func (e InvalidInterfaceNameError) Error() string {
	return fmt.Sprintf("invalid interface name %q: %s", e.Name, e.Reason)
}

// InvalidMemberNameError is returned when a string does not satisfy
// the member (method, signal, or property) name grammar.
type InvalidMemberNameError struct {
	Name   string
	Reason string
}

func (e InvalidMemberNameError) Error() string {
	return fmt.Sprintf("invalid member name %q: %s", e.Name, e.Reason)
}

// TruncatedError describes a message that ends before a complete
// value could be decoded. The decoders in this package report
// truncation as an error wrapping fragments.ErrTruncated rather than
// as a TruncatedError. A Conn whose incoming byte stream ends or fails
// mid-message is closed, since the stream can no longer be trusted to
// be framed correctly.
type TruncatedError struct {
	Reason error
}

func (e TruncatedError) Error() string { return fmt.Sprintf("truncated message: %s", e.Reason) }
func (e TruncatedError) Unwrap() error { return e.Reason }

// BadUTF8Error is returned when a string value contains invalid UTF-8.
type BadUTF8Error struct{}

func (BadUTF8Error) Error() string { return "string contains invalid UTF-8" }

// EmbeddedNulError is returned when a string or object path value
// contains an embedded NUL byte.
type EmbeddedNulError struct{}

func (EmbeddedNulError) Error() string { return "value contains an embedded NUL byte" }

// ArrayTooLongError is returned when an array's encoded byte length
// exceeds the protocol maximum of 64 MiB. It is raised by the
// [fragments] codec, which owns the wire-level length check.
type ArrayTooLongError = fragments.ArrayTooLongError

// MessageTooLongError is returned when a received message's body
// exceeds the protocol maximum of 128 MiB.
type MessageTooLongError struct {
	Length int
}

func (e MessageTooLongError) Error() string {
	return fmt.Sprintf("message body of %d bytes exceeds maximum length of 128 MiB", e.Length)
}

// BadBooleanError is returned when a decoded boolean value is neither
// 0 nor 1.
type BadBooleanError struct {
	Value uint32
}

func (e BadBooleanError) Error() string {
	return fmt.Sprintf("invalid boolean value %d, must be 0 or 1", e.Value)
}

// AuthError wraps a failure during the SASL authentication handshake
// with the bus.
type AuthError struct {
	Reason error
}

func (e AuthError) Error() string { return fmt.Sprintf("authentication failed: %s", e.Reason) }
func (e AuthError) Unwrap() error { return e.Reason }

// ErrDisconnected is returned by Conn operations once the connection
// has been closed, either by the caller or by the peer. It is the same
// value as net.ErrClosed.
var ErrDisconnected = net.ErrClosed

// CallError is the error returned from a failed method call, carrying
// the D-Bus error name and message sent back by the peer.
type CallError struct {
	// Name is the error name provided by the remote peer, e.g.
	// "org.freedesktop.DBus.Error.UnknownMethod".
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// Standard D-Bus error names used by ServiceRouter and by callers
// matching against CallError.Name.
const (
	ErrNameUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	ErrNamePropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	ErrNameInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameFailed           = "org.freedesktop.DBus.Error.Failed"
	ErrNameNoReply          = "org.freedesktop.DBus.Error.NoReply"
	ErrNameServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
)

// UnknownObjectError carries the ErrNameUnknownObject error name when
// returned from a method handler. ServiceRouter does not return it: a
// call addressed to a path with no exported objects fails with
// [UnknownInterfaceError] or [UnknownMethodError].
type UnknownObjectError struct{ Path ObjectPath }

func (e UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown object %s", e.Path)
}

// UnknownInterfaceError is returned by a ServiceRouter when a message
// names an interface not implemented at the target path.
type UnknownInterfaceError struct {
	Path      ObjectPath
	Interface string
}

func (e UnknownInterfaceError) Error() string {
	return fmt.Sprintf("object %s does not implement interface %s", e.Path, e.Interface)
}

// UnknownMethodError is returned by a ServiceRouter when a method
// call names a method that the target interface does not have.
type UnknownMethodError struct {
	Interface string
	Method    string
}

func (e UnknownMethodError) Error() string {
	return fmt.Sprintf("interface %s has no method %s", e.Interface, e.Method)
}

// UnknownPropertyError carries the ErrNameUnknownProperty error name
// when returned from a handler. ServiceRouter does not return it: a
// Properties call that names an unknown or disabled property fails
// with [InvalidArgsError].
type UnknownPropertyError struct {
	Interface string
	Property  string
}

func (e UnknownPropertyError) Error() string {
	return fmt.Sprintf("interface %s has no property %s", e.Interface, e.Property)
}

// PropertyReadOnlyError is returned by Properties.Set on a read-only
// property.
type PropertyReadOnlyError struct {
	Interface string
	Property  string
}

func (e PropertyReadOnlyError) Error() string {
	return fmt.Sprintf("property %s.%s is read-only", e.Interface, e.Property)
}

// PropertyWriteOnlyError is returned by Properties.Get on a
// write-only property.
type PropertyWriteOnlyError struct {
	Interface string
	Property  string
}

func (e PropertyWriteOnlyError) Error() string {
	return fmt.Sprintf("property %s.%s is write-only", e.Interface, e.Property)
}

// InvalidArgsError is returned when a method call's argument values
// don't match the method's declared signature. ServiceRouter also
// returns it for a call without an interface name whose method is
// exported by more than one interface at the path, and for a
// Properties call that names an unknown or disabled property.
type InvalidArgsError struct {
	Reason string
}

func (e InvalidArgsError) Error() string { return fmt.Sprintf("invalid arguments: %s", e.Reason) }
