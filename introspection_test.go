package dbus

import (
	"context"
	"reflect"
	"testing"
)

func TestRenderAndParseIntrospection(t *testing.T) {
	type pingReq struct{ Message string }

	models := []*InterfaceModel{{
		Name: "com.example.Greeter",
		Methods: []MethodModel{
			{
				Name:    "Greet",
				Handler: func(ctx context.Context, path ObjectPath, req pingReq) (string, error) { return "", nil },
			},
			{
				Name:     "Hidden",
				Handler:  func(ctx context.Context, path ObjectPath) error { return nil },
				Disabled: true,
			},
			{
				Name:       "Old",
				Handler:    func(ctx context.Context, path ObjectPath) error { return nil },
				Deprecated: true,
			},
		},
		Properties: []PropertyModel{
			{
				Name:   "Greeting",
				Type:   reflect.TypeFor[string](),
				Access: PropertyReadWrite,
			},
		},
		Signals: []SignalModel{
			{Name: "Greeted", Type: reflect.TypeFor[pingReq]()},
		},
	}}

	doc := renderIntrospection(models, []string{"child2", "child1"})

	desc, err := ParseIntrospection(doc)
	if err != nil {
		t.Fatalf("ParseIntrospection: %v", err)
	}

	if got, want := desc.Children, []string{"child1", "child2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Children = %v, want %v", got, want)
	}

	iface := desc.Interfaces["com.example.Greeter"]
	if iface == nil {
		t.Fatal("missing interface com.example.Greeter in parsed introspection")
	}

	var names []string
	for _, m := range iface.Methods {
		names = append(names, m.Name)
	}
	if len(names) != 2 {
		t.Errorf("Methods = %v, want exactly Greet and Old (Hidden is disabled)", names)
	}
	for _, m := range iface.Methods {
		if m.Name == "Hidden" {
			t.Error("disabled method Hidden should not appear in introspection")
		}
		if m.Name == "Old" && !m.Deprecated {
			t.Error("method Old should be marked Deprecated")
		}
		if m.Name == "Greet" {
			if len(m.In) != 1 || m.In[0].Type.String() != "(s)" {
				t.Errorf("Greet.In = %v, want one struct arg", m.In)
			}
			if len(m.Out) != 1 || m.Out[0].Type.String() != "s" {
				t.Errorf("Greet.Out = %v, want one string arg", m.Out)
			}
		}
	}

	if len(iface.Properties) != 1 || iface.Properties[0].Name != "Greeting" {
		t.Errorf("Properties = %v, want exactly Greeting", iface.Properties)
	}
	if p := iface.Properties[0]; !p.Readable || !p.Writable {
		t.Errorf("Greeting access = readable:%v writable:%v, want both true", p.Readable, p.Writable)
	}

	if len(iface.Signals) != 1 || iface.Signals[0].Name != "Greeted" {
		t.Errorf("Signals = %v, want exactly Greeted", iface.Signals)
	} else if len(iface.Signals[0].Args) != 1 || iface.Signals[0].Args[0].Name != "Message" {
		t.Errorf("Greeted.Args = %v, want one Message arg", iface.Signals[0].Args)
	}

	// Standard interfaces are always present even though none were
	// explicitly exported.
	for _, std := range []string{ifacePeer, ifaceIntrospect, ifaceProps, ifaceObjectManager} {
		if desc.Interfaces[std] == nil {
			t.Errorf("missing standard interface %s in rendered introspection", std)
		}
	}
}

func TestPropertyDescriptionEmitsChangedSignalAnnotation(t *testing.T) {
	doc := `<?xml version="1.0"?>
<node>
  <interface name="com.example.A">
    <property name="P" type="s" access="read">
      <annotation name="org.freedesktop.DBus.Property.EmitsChangedSignal" value="false"/>
    </property>
  </interface>
</node>`
	desc, err := ParseIntrospection(doc)
	if err != nil {
		t.Fatalf("ParseIntrospection: %v", err)
	}
	p := desc.Interfaces["com.example.A"].Properties[0]
	if p.EmitsSignal {
		t.Error("EmitsSignal should be false per the annotation")
	}
}
