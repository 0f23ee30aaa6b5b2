package dbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// ProxyObject is a client-side view of a remote object, constructed
// from its introspection data rather than from compile-time knowledge
// of its interfaces.
//
// Unlike [Object], a ProxyObject resolves method and property
// signatures dynamically: calls marshal through struct types built at
// run time from the introspected signatures, rather than a Go struct
// generated ahead of time.
type ProxyObject struct {
	obj Object

	mu   sync.Mutex
	desc *ObjectDescription
}

// Proxy returns a ProxyObject for the object at path, hosted by
// destination.
//
// The returned value does not contact the bus until one of its
// methods is called.
func (c *Conn) Proxy(destination string, path ObjectPath) *ProxyObject {
	return &ProxyObject{obj: c.Peer(destination).Object(path)}
}

// Object returns the underlying statically-typed Object handle.
func (p *ProxyObject) Object() Object { return p.obj }

// describe fetches and caches the object's introspection data.
func (p *ProxyObject) describe(ctx context.Context) (*ObjectDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.desc != nil {
		return p.desc, nil
	}
	desc, err := p.obj.Describe(ctx)
	if err != nil {
		return nil, err
	}
	p.desc = desc
	return desc, nil
}

// Interface returns a dynamically-typed handle to the named interface.
//
// The object's introspection data is fetched on the first call of
// Interface and cached for later calls.
func (p *ProxyObject) Interface(ctx context.Context, name string) (*ProxyInterface, error) {
	desc, err := p.describe(ctx)
	if err != nil {
		return nil, err
	}
	ifDesc, ok := desc.Interfaces[name]
	if !ok {
		return nil, UnknownInterfaceError{Interface: name}
	}
	return &ProxyInterface{
		iface: p.obj.Interface(name),
		desc:  ifDesc,
	}, nil
}

// Children returns proxies for the object's child objects, as reported
// by introspection.
func (p *ProxyObject) Children(ctx context.Context) ([]*ProxyObject, error) {
	objs, err := p.obj.Children(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]*ProxyObject, len(objs))
	for i, o := range objs {
		ret[i] = &ProxyObject{obj: o}
	}
	return ret, nil
}

// ProxyInterface is a dynamically-typed handle to a single interface
// of a [ProxyObject].
type ProxyInterface struct {
	iface Interface
	desc  *InterfaceDescription
}

// Interface returns the underlying statically-typed Interface handle.
func (p *ProxyInterface) Interface() Interface { return p.iface }

// Method returns the description of the named method, or an error if
// the interface has no such method.
func (p *ProxyInterface) Method(name string) (*MethodDescription, error) {
	for _, m := range p.desc.Methods {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, UnknownMethodError{Interface: p.iface.Name(), Method: name}
}

// Call invokes method with args positionally bound to the method's
// declared input arguments, and returns the response values in the
// order declared by introspection.
//
// Call exists for callers that only have introspection data, not a Go
// type, to describe the method's shape. Prefer [Interface.Call] when
// the wire shape is known at compile time.
func (p *ProxyInterface) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	m, err := p.Method(method)
	if err != nil {
		return nil, err
	}
	if len(args) != len(m.In) {
		return nil, fmt.Errorf("dbus: method %s.%s takes %d arguments, got %d", p.iface.Name(), method, len(m.In), len(args))
	}

	reqType := positionalStructType(args)
	req := reflect.New(reqType).Elem()
	for i, a := range args {
		req.Field(i).Set(reflect.ValueOf(a))
	}

	if m.NoReply {
		return nil, p.iface.OneWay(ctx, method, req.Interface())
	}

	var resp any
	var respVal reflect.Value
	if len(m.Out) > 0 {
		respType := signatureStructType(m.Out)
		respPtr := reflect.New(respType)
		respVal = respPtr.Elem()
		resp = respPtr.Interface()
	}
	if err := p.iface.Call(ctx, method, req.Interface(), resp); err != nil {
		return nil, err
	}
	if len(m.Out) == 0 {
		return nil, nil
	}
	ret := make([]any, len(m.Out))
	for i := range ret {
		ret[i] = respVal.Field(i).Interface()
	}
	return ret, nil
}

// positionalStructType builds a struct type whose fields, in order,
// have the runtime types of args, so a positional argument list can
// be marshaled as a DBus struct body without a compile-time type.
func positionalStructType(args []any) reflect.Type {
	fields := make([]reflect.StructField, len(args))
	for i, a := range args {
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: reflect.TypeOf(a),
		}
	}
	return reflect.StructOf(fields)
}

// signatureStructType builds a struct type whose fields, in order,
// match the Go types of descs, for decoding a response whose shape is
// only known from introspection.
func signatureStructType(descs []ArgumentDescription) reflect.Type {
	fields := make([]reflect.StructField, len(descs))
	for i, d := range descs {
		t := d.Type.Type()
		if t == nil {
			t = reflect.TypeFor[any]()
		}
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: t,
		}
	}
	return reflect.StructOf(fields)
}

// GetProperty reads a property by name, returning its value boxed as
// `any`.
func (p *ProxyInterface) GetProperty(ctx context.Context, name string) (any, error) {
	var v any
	err := p.iface.GetProperty(ctx, name, &v)
	return v, err
}

// SetProperty sets a property by name.
func (p *ProxyInterface) SetProperty(ctx context.Context, name string, value any) error {
	return p.iface.SetProperty(ctx, name, value)
}

// Subscribe watches the interface for the named signal.
func (p *ProxyInterface) Subscribe(w *Watcher, signal string) (remove func() error, err error) {
	m := NewMatch().Object(p.iface.Object()).InterfaceMember(p.iface.Name(), signal)
	return w.Match(m)
}
