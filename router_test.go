package dbus

import (
	"bytes"
	"context"
	"reflect"
	"testing"

	"github.com/fenwick-labs/gobus/fragments"
)

func emptyBody() *fragments.Decoder {
	return &fragments.Decoder{In: bytes.NewReader(nil)}
}

func TestDispatchAmbiguousEmptyInterface(t *testing.T) {
	r := newServiceRouter()
	noop := func(ctx context.Context, path ObjectPath) error { return nil }

	r.export("/obj", &InterfaceModel{
		Name:    "org.test.A",
		Methods: []MethodModel{{Name: "Foo", Handler: noop}},
	})
	r.export("/obj", &InterfaceModel{
		Name:    "org.test.B",
		Methods: []MethodModel{{Name: "Foo", Handler: noop}},
	})

	_, err := r.dispatch(context.Background(), "/obj", "", "Foo", emptyBody())
	if _, ok := err.(InvalidArgsError); !ok {
		t.Errorf("dispatch() with ambiguous method = %v (%T), want InvalidArgsError", err, err)
	}
}

func TestDispatchEmptyInterfaceSingleMatch(t *testing.T) {
	r := newServiceRouter()
	called := false
	fn := func(ctx context.Context, path ObjectPath) error {
		called = true
		return nil
	}
	r.export("/obj", &InterfaceModel{
		Name:    "org.test.A",
		Methods: []MethodModel{{Name: "Foo", Handler: fn}},
	})

	if _, err := r.dispatch(context.Background(), "/obj", "", "Foo", emptyBody()); err != nil {
		t.Fatalf("dispatch() = %v, want nil", err)
	}
	if !called {
		t.Error("handler was not invoked")
	}
}

func TestDispatchEmptyInterfaceNoMatchFallsBackToUnknownMethod(t *testing.T) {
	r := newServiceRouter()
	_, err := r.dispatch(context.Background(), "/obj", "", "Foo", emptyBody())
	if _, ok := err.(UnknownMethodError); !ok {
		t.Errorf("dispatch() with no matching method = %v (%T), want UnknownMethodError", err, err)
	}
}

func TestDispatchNamedInterfaceUnknownMethod(t *testing.T) {
	r := newServiceRouter()
	r.export("/obj", &InterfaceModel{Name: "org.test.A"})
	_, err := r.dispatch(context.Background(), "/obj", "org.test.A", "Foo", emptyBody())
	if _, ok := err.(UnknownMethodError); !ok {
		t.Errorf("dispatch() for unknown method on known interface = %v (%T), want UnknownMethodError", err, err)
	}
}

func TestDispatchUnknownInterface(t *testing.T) {
	r := newServiceRouter()
	_, err := r.dispatch(context.Background(), "/obj", "org.test.Missing", "Foo", emptyBody())
	if _, ok := err.(UnknownInterfaceError); !ok {
		t.Errorf("dispatch() for an unexported interface = %v (%T), want UnknownInterfaceError", err, err)
	}
}

func TestDispatchPropertiesSetWithoutConnDoesNotPanic(t *testing.T) {
	r := newServiceRouter()
	var current string
	r.export("/obj", &InterfaceModel{
		Name: "org.test.A",
		Properties: []PropertyModel{{
			Name:               "Count",
			Type:               reflect.TypeFor[string](),
			Access:             PropertyReadWrite,
			EmitsChangedSignal: true,
			Get:                func(ctx context.Context, path ObjectPath) (any, error) { return current, nil },
			Set: func(ctx context.Context, path ObjectPath, v any) error {
				current = v.(string)
				return nil
			},
		}},
	})

	body := struct {
		InterfaceName string
		PropertyName  string
		Value         Variant
	}{"org.test.A", "Count", Variant{"hi"}}

	enc := &fragments.Encoder{Order: fragments.LittleEndian, Mapper: encoderFor}
	if err := enc.Value(context.Background(), body); err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}

	if _, err := r.dispatchProperties(context.Background(), "/obj", "Set", dec); err != nil {
		t.Fatalf("dispatchProperties(Set) = %v, want nil", err)
	}
	if current != "hi" {
		t.Errorf("property value = %q, want %q", current, "hi")
	}
}

func TestDispatchPropertiesGetReadOnly(t *testing.T) {
	r := newServiceRouter()
	r.export("/obj", &InterfaceModel{
		Name: "org.test.A",
		Properties: []PropertyModel{{
			Name:   "Count",
			Type:   reflect.TypeFor[int32](),
			Access: PropertyRead,
			Get:    func(ctx context.Context, path ObjectPath) (any, error) { return int32(7), nil },
		}},
	})

	enc := &fragments.Encoder{Order: fragments.LittleEndian, Mapper: encoderFor}
	req := struct{ InterfaceName, PropertyName string }{"org.test.A", "Count"}
	if err := enc.Value(context.Background(), req); err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}

	got, err := r.dispatchProperties(context.Background(), "/obj", "Get", dec)
	if err != nil {
		t.Fatalf("dispatchProperties(Get) = %v, want nil", err)
	}
	v, ok := got.(Variant)
	if !ok || v.Value != int32(7) {
		t.Errorf("dispatchProperties(Get) = %#v, want Variant{7}", got)
	}
}

func TestDispatchPropertiesGetDisabledIsInvalidArgs(t *testing.T) {
	r := newServiceRouter()
	r.export("/obj", &InterfaceModel{
		Name: "org.test.A",
		Properties: []PropertyModel{{
			Name:     "Count",
			Type:     reflect.TypeFor[int32](),
			Access:   PropertyRead,
			Disabled: true,
			Get:      func(ctx context.Context, path ObjectPath) (any, error) { return int32(7), nil },
		}},
	})

	enc := &fragments.Encoder{Order: fragments.LittleEndian, Mapper: encoderFor}
	req := struct{ InterfaceName, PropertyName string }{"org.test.A", "Count"}
	if err := enc.Value(context.Background(), req); err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}

	_, err := r.dispatchProperties(context.Background(), "/obj", "Get", dec)
	if _, ok := err.(InvalidArgsError); !ok {
		t.Fatalf("dispatchProperties(Get) on a disabled property = %v (%T), want InvalidArgsError", err, err)
	}
	if wire := errNameFor(err); wire != ErrNameInvalidArgs {
		t.Errorf("errNameFor(%v) = %q, want %q", err, wire, ErrNameInvalidArgs)
	}
}

func TestDispatchPropertiesSetMissingIsInvalidArgs(t *testing.T) {
	r := newServiceRouter()
	r.export("/obj", &InterfaceModel{Name: "org.test.A"})

	body := struct {
		InterfaceName string
		PropertyName  string
		Value         Variant
	}{"org.test.A", "Missing", Variant{"x"}}

	enc := &fragments.Encoder{Order: fragments.LittleEndian, Mapper: encoderFor}
	if err := enc.Value(context.Background(), body); err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}

	_, err := r.dispatchProperties(context.Background(), "/obj", "Set", dec)
	if _, ok := err.(InvalidArgsError); !ok {
		t.Fatalf("dispatchProperties(Set) on a missing property = %v (%T), want InvalidArgsError", err, err)
	}
	if wire := errNameFor(err); wire != ErrNameInvalidArgs {
		t.Errorf("errNameFor(%v) = %q, want %q", err, wire, ErrNameInvalidArgs)
	}
}
