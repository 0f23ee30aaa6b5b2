package dbus

import (
	"reflect"
	"testing"
)

func TestPositionalStructType(t *testing.T) {
	typ := positionalStructType([]any{"hello", int32(7), true})
	if typ.Kind() != reflect.Struct {
		t.Fatalf("positionalStructType() = %v, want a struct type", typ)
	}
	if typ.NumField() != 3 {
		t.Fatalf("NumField() = %d, want 3", typ.NumField())
	}
	wantKinds := []reflect.Kind{reflect.String, reflect.Int32, reflect.Bool}
	for i, k := range wantKinds {
		if got := typ.Field(i).Type.Kind(); got != k {
			t.Errorf("field %d kind = %v, want %v", i, got, k)
		}
	}

	v := reflect.New(typ).Elem()
	v.Field(0).SetString("hello")
	v.Field(1).SetInt(7)
	v.Field(2).SetBool(true)
	if got := v.Field(0).Interface(); got != "hello" {
		t.Errorf("field 0 = %v, want hello", got)
	}
}

func TestPositionalStructTypeEmpty(t *testing.T) {
	typ := positionalStructType(nil)
	if typ.Kind() != reflect.Struct || typ.NumField() != 0 {
		t.Errorf("positionalStructType(nil) = %v, want an empty struct type", typ)
	}
}

func TestSignatureStructType(t *testing.T) {
	strSig, err := ParseSignature("s")
	if err != nil {
		t.Fatal(err)
	}
	i32Sig, err := ParseSignature("i")
	if err != nil {
		t.Fatal(err)
	}

	typ := signatureStructType([]ArgumentDescription{
		{Name: "name", Type: strSig},
		{Name: "count", Type: i32Sig},
	})
	if typ.NumField() != 2 {
		t.Fatalf("NumField() = %d, want 2", typ.NumField())
	}
	if typ.Field(0).Type.Kind() != reflect.String {
		t.Errorf("field 0 kind = %v, want string", typ.Field(0).Type.Kind())
	}
	if typ.Field(1).Type.Kind() != reflect.Int32 {
		t.Errorf("field 1 kind = %v, want int32", typ.Field(1).Type.Kind())
	}
}

func TestProxyInterfaceMethodNotFound(t *testing.T) {
	p := &ProxyInterface{
		iface: Object{path: "/obj"}.Interface("org.test.A"),
		desc:  &InterfaceDescription{Name: "org.test.A"},
	}
	if _, err := p.Method("Missing"); err == nil {
		t.Error("Method(\"Missing\") should return an error when not declared")
	}
}
