// Package dbus implements the DBus wire protocol: connecting to a
// message bus, calling and exporting methods, reading and writing
// properties, and watching signals.
//
// # Marshaling
//
// Values are translated to and from the DBus wire format by
// reflection, the same way [encoding/json] does it. A type can
// override the default behavior by implementing [Marshaler] and/or
// [Unmarshaler].
//
// The default encodings are: uint{8,16,32,64}, int{16,32,64}, float64,
// bool and string map to the corresponding DBus basic type. Arrays and
// slices encode as DBus arrays; decoding into a slice resets its
// length to zero and appends. Structs encode as DBus structs, one
// field per struct field in declaration order; embedded structs are
// flattened as if their exported fields belonged to the outer struct.
// Maps encode as DBus dictionaries, keyed by any of
// uint{8,16,32,64}, int{16,32,64}, float64, bool or string. Pointers
// encode as the pointed-to value, allocating on decode as needed.
// [Signature], [ObjectPath], [Variant] and [File] map to their
// corresponding DBus types. A plain `any` value encodes as a variant.
//
// Several standard DBus interfaces extend a struct with optional
// fields using a "vardict" (map[K]any) trailer. A struct may declare
// one field tagged `dbus:"vardict"` plus any number of "associated"
// fields tagged `dbus:"key=N"`, to give strongly typed access to
// specific vardict keys without giving up forward compatibility with
// keys the struct doesn't know about:
//
//	type Properties struct {
//	    M       map[string]any `dbus:"vardict"`
//	    Timeout int32          `dbus:"key=Timeout"`
//	}
//
// int8, int, uint, uintptr, complex64, complex128, channel and
// function values, and cyclic types, cannot be encoded or decoded;
// attempting to do so returns a [TypeError].
//
// # Calling and exporting
//
// [Dial], [SystemBus] and [SessionBus] establish a [Conn]. Use
// [Conn.Call] (or the shorthand [Interface.Call]) to invoke a remote
// method, [Conn.Export] to publish an [InterfaceModel] of methods,
// properties and signals at an object path, and [Conn.Watch] to
// receive signals and property changes matching a [Match].
package dbus
