package dbus

import "context"

// Object is a handle to a single object exported by a [Peer].
//
// Object is a lightweight, purely local value: constructing one does
// not communicate with the bus, and does not guarantee that the
// object actually exists.
type Object struct {
	p    Peer
	path ObjectPath
}

// Conn returns the connection the object was reached through.
func (o Object) Conn() *Conn { return o.p.Conn() }

// Peer returns the peer hosting the object.
func (o Object) Peer() Peer { return o.p }

// Path returns the object's path.
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return o.p.String() + string(o.path)
}

// Compare compares two objects, with the same convention as
// [cmp.Compare].
func (o Object) Compare(other Object) int {
	if c := o.p.Compare(other.p); c != 0 {
		return c
	}
	if o.path < other.path {
		return -1
	}
	if o.path > other.path {
		return 1
	}
	return 0
}

// Interface returns a handle to the named interface offered by the
// object.
func (o Object) Interface(name string) Interface {
	return Interface{o: o, name: name}
}

// Introspect fetches and returns the object's introspection XML
// document, as provided by its peer.
func (o Object) Introspect(ctx context.Context) (string, error) {
	var resp string
	err := o.Interface(ifaceIntrospect).Call(ctx, "Introspect", nil, &resp)
	return resp, err
}

// Describe fetches the object's introspection data and parses it into
// an [ObjectDescription].
func (o Object) Describe(ctx context.Context) (*ObjectDescription, error) {
	xmlStr, err := o.Introspect(ctx)
	if err != nil {
		return nil, err
	}
	return ParseIntrospection(xmlStr)
}

// Children returns handles to the object's child objects, as reported
// by introspection.
func (o Object) Children(ctx context.Context) ([]Object, error) {
	desc, err := o.Describe(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]Object, 0, len(desc.Children))
	base := o.path.Clean()
	if base == "/" {
		base = ""
	}
	for _, name := range desc.Children {
		ret = append(ret, o.p.Object(base+"/"+ObjectPath(name)))
	}
	return ret, nil
}
