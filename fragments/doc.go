// Package fragments provides the low-level byte-alignment primitives
// used to marshal and unmarshal the D-Bus wire format.
//
// An Encoder/Decoder pair knows nothing about Go types: it only knows
// how to place bytes at the correct alignment for the D-Bus basic
// types (y, b, n, q, i, u, x, t, d, s, o, g, h) and the two
// container shapes (array and struct). The dbus
// package builds a type-directed marshaller/unmarshaller on top of
// these primitives.
package fragments
