package dbus

import (
	"bytes"
	"context"
	"testing"

	"github.com/fenwick-labs/gobus/fragments"
)

func TestHandlerForFuncSignatures(t *testing.T) {
	ctx := context.Background()

	noArgNoRet := func(ctx context.Context, path ObjectPath) error { return nil }
	noArgRet := func(ctx context.Context, path ObjectPath) (string, error) { return "hi", nil }
	argNoRet := func(ctx context.Context, path ObjectPath, req string) error { return nil }
	argRet := func(ctx context.Context, path ObjectPath, req int32) (int32, error) { return req * 2, nil }

	for _, fn := range []any{noArgNoRet, noArgRet, argNoRet, argRet} {
		if _, err := handlerForFunc(fn); err != nil {
			t.Errorf("handlerForFunc(%T) = %v, want nil", fn, err)
		}
	}

	h, err := handlerForFunc(argRet)
	if err != nil {
		t.Fatalf("handlerForFunc: %v", err)
	}
	enc := &fragments.Encoder{Order: fragments.LittleEndian, Mapper: encoderFor}
	if err := enc.Value(ctx, int32(21)); err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	dec := &fragments.Decoder{Order: fragments.LittleEndian, Mapper: decoderFor, In: bytes.NewReader(enc.Out)}
	got, err := h(ctx, "/obj", dec)
	if err != nil {
		t.Fatalf("handler call: %v", err)
	}
	if got != int32(42) {
		t.Errorf("handler result = %v, want 42", got)
	}
}

func TestHandlerForFuncRejectsBadSignatures(t *testing.T) {
	bad := []any{
		nil,
		"not a function",
		func() error { return nil },
		func(path ObjectPath) error { return nil },
		func(ctx context.Context, path string) error { return nil },
		func(ctx context.Context, path ObjectPath) {},
		func(ctx context.Context, path ObjectPath, a, b, c, d string) error { return nil },
	}
	for _, fn := range bad {
		if _, err := handlerForFunc(fn); err == nil {
			t.Errorf("handlerForFunc(%#v) = nil error, want an error", fn)
		}
	}
}

func TestInterfaceModelMethodAndPropertyRespectDisabled(t *testing.T) {
	im := &InterfaceModel{
		Name: "org.test.A",
		Methods: []MethodModel{
			{Name: "Enabled"},
			{Name: "Disabled", Disabled: true},
		},
		Properties: []PropertyModel{
			{Name: "Enabled"},
			{Name: "Disabled", Disabled: true},
		},
	}

	if m := im.method("Enabled"); m == nil {
		t.Error("method(\"Enabled\") = nil, want non-nil")
	}
	if m := im.method("Disabled"); m != nil {
		t.Error("method(\"Disabled\") should be hidden once Disabled is true")
	}
	if m := im.method("Missing"); m != nil {
		t.Error("method(\"Missing\") = non-nil, want nil")
	}

	if p := im.property("Enabled"); p == nil {
		t.Error("property(\"Enabled\") = nil, want non-nil")
	}
	if p := im.property("Disabled"); p != nil {
		t.Error("property(\"Disabled\") should be hidden once Disabled is true")
	}
}

func TestConnExportValidatesNames(t *testing.T) {
	c := &Conn{router: newServiceRouter()}

	if err := c.Export("/obj", &InterfaceModel{Name: "not a valid interface"}); err == nil {
		t.Error("Export with an invalid interface name should fail")
	}
	if err := c.Export("not a valid path", &InterfaceModel{Name: "org.test.A"}); err == nil {
		t.Error("Export with an invalid object path should fail")
	}
	if err := c.Export("/obj", &InterfaceModel{
		Name:    "org.test.A",
		Methods: []MethodModel{{Name: "bad-name!", Handler: func(ctx context.Context, p ObjectPath) error { return nil }}},
	}); err == nil {
		t.Error("Export with an invalid method name should fail")
	}
}
