package dbus

// Well-known interface and object path names defined by the DBus
// specification, used to talk to the message bus daemon itself and to
// implement the standard interfaces every object offers.
const (
	busName = "org.freedesktop.DBus"
	busPath = ObjectPath("/org/freedesktop/DBus")

	ifaceBus           = "org.freedesktop.DBus"
	ifacePeer          = "org.freedesktop.DBus.Peer"
	ifaceProps         = "org.freedesktop.DBus.Properties"
	ifaceIntrospect    = "org.freedesktop.DBus.Introspectable"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
)
