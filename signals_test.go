package dbus

import (
	"reflect"
	"testing"
)

type regTestSignal struct {
	Value string
}

func TestRegisterSignalType(t *testing.T) {
	RegisterSignalType[regTestSignal]("org.test.Registry", "Changed")

	got := signalTypeFor("org.test.Registry", "Changed")
	want := reflect.TypeFor[regTestSignal]()
	if got != want {
		t.Errorf("signalTypeFor() = %v, want %v", got, want)
	}

	if got := signalTypeFor("org.test.Registry", "Unregistered"); got != nil {
		t.Errorf("signalTypeFor() for an unregistered member = %v, want nil", got)
	}

	k, ok := signalNameFor(want)
	if !ok || k.Interface != "org.test.Registry" || k.Member != "Changed" {
		t.Errorf("signalNameFor() = %v, %v, want {org.test.Registry Changed}, true", k, ok)
	}

	if _, ok := signalNameFor(reflect.TypeFor[struct{ X int }]()); ok {
		t.Error("signalNameFor() for an unregistered type should report ok=false")
	}
}

func TestBuiltinSignalsRegistered(t *testing.T) {
	tests := []struct {
		iface, member string
		want          reflect.Type
	}{
		{ifaceBus, "NameOwnerChanged", reflect.TypeFor[NameOwnerChanged]()},
		{ifaceBus, "NameLost", reflect.TypeFor[NameLost]()},
		{ifaceBus, "NameAcquired", reflect.TypeFor[NameAcquired]()},
		{ifaceProps, "PropertiesChanged", reflect.TypeFor[PropertiesChanged]()},
		{ifaceObjectManager, "InterfacesAdded", reflect.TypeFor[InterfacesAdded]()},
		{ifaceObjectManager, "InterfacesRemoved", reflect.TypeFor[InterfacesRemoved]()},
	}
	for _, tc := range tests {
		if got := signalTypeFor(tc.iface, tc.member); got != tc.want {
			t.Errorf("signalTypeFor(%q, %q) = %v, want %v", tc.iface, tc.member, got, tc.want)
		}
	}
}
