package dbus

import (
	"reflect"
	"sync"
)

// signalRegistry maps well-known and user-registered signal names to
// their decoded Go body type, and back again for emitting and
// matching.
var signalRegistry = struct {
	mu      sync.RWMutex
	byName  map[interfaceMember]reflect.Type
	byType  map[reflect.Type]interfaceMember
}{
	byName: map[interfaceMember]reflect.Type{},
	byType: map[reflect.Type]interfaceMember{},
}

// RegisterSignalType associates the Go type T with the named signal,
// so that received instances of the signal are decoded as T rather
// than left as an untyped struct, and so [Match.Signal] and
// [Conn.EmitSignal] can find the signal name for a T value.
//
// Call RegisterSignalType from an init function, before any Conn
// receives or emits the signal.
func RegisterSignalType[T any](interfaceName, signalName string) {
	var zero T
	t := reflect.TypeOf(zero)
	k := interfaceMember{Interface: interfaceName, Member: signalName}

	signalRegistry.mu.Lock()
	defer signalRegistry.mu.Unlock()
	signalRegistry.byName[k] = t
	signalRegistry.byType[t] = k
}

// signalTypeFor returns the registered Go type for a signal, or nil if
// no type was registered for it.
func signalTypeFor(interfaceName, member string) reflect.Type {
	k := interfaceMember{Interface: interfaceName, Member: member}
	signalRegistry.mu.RLock()
	defer signalRegistry.mu.RUnlock()
	return signalRegistry.byName[k]
}

// signalNameFor returns the registered interface/member name for a Go
// signal body type, if any.
func signalNameFor(t reflect.Type) (interfaceMember, bool) {
	signalRegistry.mu.RLock()
	defer signalRegistry.mu.RUnlock()
	k, ok := signalRegistry.byType[t]
	return k, ok
}

func init() {
	RegisterSignalType[NameOwnerChanged](ifaceBus, "NameOwnerChanged")
	RegisterSignalType[NameLost](ifaceBus, "NameLost")
	RegisterSignalType[NameAcquired](ifaceBus, "NameAcquired")
	RegisterSignalType[ActivatableServicesChanged](ifaceBus, "ActivatableServicesChanged")
	RegisterSignalType[PropertiesChanged](ifaceProps, "PropertiesChanged")
	RegisterSignalType[InterfacesAdded](ifaceObjectManager, "InterfacesAdded")
	RegisterSignalType[InterfacesRemoved](ifaceObjectManager, "InterfacesRemoved")
}

// NameOwnerChanged is sent by the bus whenever a bus name's owner
// changes, including names gaining or losing an owner entirely.
type NameOwnerChanged struct {
	Name     string
	OldOwner string
	NewOwner string
}

// NameLost is sent to a peer that loses ownership, or the chance to
// queue for ownership, of a bus name.
type NameLost struct {
	Name string
}

// NameAcquired is sent to a peer that gains ownership of a bus name.
type NameAcquired struct {
	Name string
}

// ActivatableServicesChanged is sent by the bus when the set of
// service-activatable names changes.
type ActivatableServicesChanged struct{}

// PropertiesChanged is sent by an object when one or more of its
// properties changes value, or becomes invalidated.
type PropertiesChanged struct {
	Interface       string
	ChangedProps    map[string]Variant
	InvalidatedProps []string
}

// InterfacesAdded is sent by an org.freedesktop.DBus.ObjectManager
// implementing object tree when a new object appears with one or more interfaces.
type InterfacesAdded struct {
	Object     ObjectPath
	Interfaces map[string]map[string]Variant
}

// InterfacesRemoved is sent when an object is removed from a managed
// object tree.
type InterfacesRemoved struct {
	Object     ObjectPath
	Interfaces []string
}

