package dbus

import (
	"cmp"
	"context"
)

// Peer is a handle to a single participant on the bus, identified by
// a unique (":1.42") or well-known ("org.example.Foo") bus name.
type Peer struct {
	c    *Conn
	name string
}

// Conn returns the connection the peer was reached through.
func (p Peer) Conn() *Conn { return p.c }

// Name returns the peer's bus name.
func (p Peer) Name() string { return p.name }

func (p Peer) String() string { return p.name }

// Compare compares two peers, with the same convention as
// [cmp.Compare].
func (p Peer) Compare(other Peer) int {
	return cmp.Compare(p.name, other.name)
}

// Object returns a handle to the object at path, as hosted by this
// peer.
func (p Peer) Object(path ObjectPath) Object {
	return Object{p: p, path: path}
}

// Ping round-trips a no-op call to the peer, to check that it is
// reachable and responsive.
func (p Peer) Ping(ctx context.Context) error {
	return p.c.Call(ctx, Request{
		Destination: p.name,
		Path:        "/",
		Interface:   ifacePeer,
		Method:      "Ping",
	}, nil)
}

// MachineID asks the peer for the ID of the machine it is running on.
func (p Peer) MachineID(ctx context.Context) (string, error) {
	var id string
	err := p.c.Call(ctx, Request{
		Destination: p.name,
		Path:        "/",
		Interface:   ifacePeer,
		Method:      "GetMachineId",
	}, &id)
	return id, err
}
