package dbus

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/fenwick-labs/gobus/fragments"
)

// MethodModel describes a single exported method.
type MethodModel struct {
	// Name is the method's DBus name.
	Name string
	// Handler implements the method. It must have one of the type
	// signatures accepted by [Conn.Handle].
	Handler any
	// Disabled removes the method from introspection and causes calls
	// to it to be rejected with [UnknownMethodError], without
	// unregistering it entirely. Toggle it to change the object's
	// visible API at runtime.
	Disabled bool
	// Deprecated marks the method as deprecated in introspection.
	Deprecated bool
}

// PropertyAccess describes whether a property can be read, written,
// or both.
type PropertyAccess int

const (
	PropertyRead PropertyAccess = iota
	PropertyWrite
	PropertyReadWrite
)

// PropertyModel describes a single exported property.
type PropertyModel struct {
	// Name is the property's DBus name.
	Name string
	// Type is the Go type of the property value, used to compute its
	// introspection signature without invoking Get.
	Type reflect.Type
	// Access controls whether Get, Set, or both are permitted.
	Access PropertyAccess
	// Get returns the current property value. Required unless Access
	// is PropertyWrite.
	Get func(ctx context.Context, path ObjectPath) (any, error)
	// Set updates the property value. Required unless Access is
	// PropertyRead.
	Set func(ctx context.Context, path ObjectPath, value any) error
	// Disabled removes the property from introspection and from
	// Get/Set/GetAll, without unregistering it.
	Disabled bool
	// EmitsChangedSignal, when true, makes a successful Set through
	// org.freedesktop.DBus.Properties emit a PropertiesChanged signal
	// carrying the new value. When false (the zero value), Set emits
	// nothing and introspection advertises the property with an
	// EmitsChangedSignal annotation of "false".
	EmitsChangedSignal bool
}

// SignalModel describes a signal an interface may emit.
type SignalModel struct {
	// Name is the signal's DBus name.
	Name string
	// Type is the Go type of the signal body. A zero Type means the
	// signal carries no body.
	Type reflect.Type
	// Disabled removes the signal from introspection, without
	// preventing EmitSignal from sending it.
	Disabled bool
}

// InterfaceModel describes a DBus interface implementation: its
// methods, properties and signals.
type InterfaceModel struct {
	// Name is the interface's DBus name.
	Name string
	Methods    []MethodModel
	Properties []PropertyModel
	Signals    []SignalModel
}

func (im *InterfaceModel) method(name string) *MethodModel {
	for i := range im.Methods {
		if im.Methods[i].Name == name && !im.Methods[i].Disabled {
			return &im.Methods[i]
		}
	}
	return nil
}

func (im *InterfaceModel) property(name string) *PropertyModel {
	for i := range im.Properties {
		if im.Properties[i].Name == name && !im.Properties[i].Disabled {
			return &im.Properties[i]
		}
	}
	return nil
}

// Export publishes model at path on the connection, making its
// methods callable and its properties and signals visible through the
// standard Properties, Introspectable and ObjectManager interfaces.
//
// Exporting a second model under the same interface name at the same
// path replaces the first.
func (c *Conn) Export(path ObjectPath, model *InterfaceModel) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if err := ValidateInterfaceName(model.Name); err != nil {
		return err
	}
	for _, m := range model.Methods {
		if err := ValidateMemberName(m.Name); err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}
		if _, err := handlerForFunc(m.Handler); err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}
	}
	c.router.export(path, model)

	props := map[string]Variant{}
	for _, p := range model.Properties {
		if p.Disabled || p.Get == nil {
			continue
		}
		v, err := p.Get(context.Background(), path)
		if err != nil {
			continue
		}
		props[p.Name] = Variant{Value: v}
	}
	return c.EmitSignal(context.Background(), path, &InterfacesAdded{
		Object:     path,
		Interfaces: map[string]map[string]Variant{model.Name: props},
	})
}

// Unexport removes the named interface from path. It is a no-op if
// the interface was not exported.
func (c *Conn) Unexport(path ObjectPath, interfaceName string) {
	c.router.unexport(path, interfaceName)
}

// Handle registers fn as the handler for methodName on interfaceName
// at every object path. Such handlers are consulted only when no model
// exported at the call's path implements interfaceName, only for calls
// that name the interface explicitly, and they do not appear in
// introspection data.
//
// fn must have one of the following type signatures, where ReqType
// and RetType determine the method's [Signature]:
//
//	func(context.Context, dbus.ObjectPath) error
//	func(context.Context, dbus.ObjectPath) (RetType, error)
//	func(context.Context, dbus.ObjectPath, ReqType) error
//	func(context.Context, dbus.ObjectPath, ReqType) (RetType, error)
func (c *Conn) Handle(interfaceName, methodName string, fn any) error {
	return c.router.handle(interfaceName, methodName, fn)
}

type handlerFunc func(ctx context.Context, object ObjectPath, req *fragments.Decoder) (any, error)

func handlerForFunc(fn any) (handlerFunc, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() {
		return nil, fmt.Errorf("nil handler function")
	}
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %s", t)
	}
	ni, no := t.NumIn(), t.NumOut()

	invalid := fmt.Errorf("invalid signature %s for handler func, valid signatures are:\n"+
		"  func(context.Context, dbus.ObjectPath, ReqT) (RespT, error)\n"+
		"  func(context.Context, dbus.ObjectPath) (RespT, error)\n"+
		"  func(context.Context, dbus.ObjectPath, ReqT) error\n"+
		"  func(context.Context, dbus.ObjectPath) error", t)

	if ni < 2 || ni > 3 || no < 1 || no > 2 {
		return nil, invalid
	}
	if !t.In(0).Implements(reflect.TypeFor[context.Context]()) {
		return nil, invalid
	}
	if t.In(1) != reflect.TypeFor[ObjectPath]() {
		return nil, invalid
	}
	if !t.Out(no - 1).Implements(reflect.TypeFor[error]()) {
		return nil, invalid
	}

	var reqDec fragments.DecoderFunc
	var err error
	if ni == 3 {
		reqDec, err = decoderFor(t.In(2))
		if err != nil {
			return nil, fmt.Errorf("request type %s is not a valid DBus type: %w", t.In(2), err)
		}
	}
	if no == 2 {
		if _, err = encoderFor(t.Out(0)); err != nil {
			return nil, fmt.Errorf("response type %s is not a valid DBus type: %w", t.Out(0), err)
		}
	}

	switch {
	case ni == 2 && no == 1:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj)})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}, nil
	case ni == 2 && no == 2:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj)})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}, nil
	case ni == 3 && no == 1:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, InvalidArgsError{Reason: err.Error()}
			}
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj), body.Elem()})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}, nil
	case ni == 3 && no == 2:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, InvalidArgsError{Reason: err.Error()}
			}
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj), body.Elem()})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}, nil
	default:
		return nil, invalid
	}
}

// sortedPaths returns ps sorted lexically, for deterministic
// ObjectManager / introspection output.
func sortedPaths(ps []ObjectPath) []ObjectPath {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}
