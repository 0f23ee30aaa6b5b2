package dbus

import (
	"context"
	"errors"
	"fmt"
)

// NameRequest is a request to take ownership of a bus name. See
// [Conn.RequestName] for detailed behavior.
type NameRequest struct {
	// Name is the bus name to request.
	Name string
	// ReplaceCurrent attempts to replace the current primary owner of
	// Name, if the current owner allowed replacement.
	ReplaceCurrent bool
	// NoQueue causes RequestName to return an error rather than join
	// the backup queue if primary ownership cannot be granted.
	NoQueue bool
	// AllowReplacement permits a later ReplaceCurrent request from
	// another client to take ownership away from this one.
	AllowReplacement bool
}

// RequestName asks the bus to assign an additional name to the Conn.
//
// If nobody else claims the name, the Conn becomes the owner and
// RequestName returns (true, nil). Otherwise, by default, the Conn
// joins the queue of backup owners and RequestName returns (false,
// nil); the bus sends [NameAcquired] when ownership is later granted,
// and [NameLost] if it is taken away again.
//
// See [NameRequest] for the flags controlling queueing and
// replacement behavior.
func (c *Conn) RequestName(ctx context.Context, req NameRequest) (isPrimaryOwner bool, err error) {
	if err := ValidateBusName(req.Name); err != nil {
		return false, err
	}
	var resp uint32
	r := struct {
		Name  string
		Flags uint32
	}{Name: req.Name}
	if req.AllowReplacement {
		r.Flags |= 0x1
	}
	if req.ReplaceCurrent {
		r.Flags |= 0x2
	}
	if req.NoQueue {
		r.Flags |= 0x4
	}

	if err := c.bus.Interface(ifaceBus).Call(ctx, "RequestName", r, &resp); err != nil {
		return false, err
	}
	switch resp {
	case 1, 4: // became or already is primary owner
		return true, nil
	case 2: // queued
		return false, nil
	case 3:
		return false, errors.New("dbus: requested name not available")
	default:
		return false, fmt.Errorf("dbus: unknown response code %d to RequestName", resp)
	}
}

// ReleaseName relinquishes a previously requested bus name.
func (c *Conn) ReleaseName(ctx context.Context, name string) error {
	var ignore uint32
	return c.bus.Interface(ifaceBus).Call(ctx, "ReleaseName", name, &ignore)
}

// Peers lists the currently connected bus peers.
func (c *Conn) Peers(ctx context.Context) ([]Peer, error) {
	var names []string
	if err := c.bus.Interface(ifaceBus).Call(ctx, "ListNames", nil, &names); err != nil {
		return nil, err
	}
	ret := make([]Peer, len(names))
	for i, n := range names {
		ret[i] = c.Peer(n)
	}
	return ret, nil
}

// ActivatablePeers lists the bus names the bus can service-activate
// on demand.
func (c *Conn) ActivatablePeers(ctx context.Context) ([]Peer, error) {
	var names []string
	if err := c.bus.Interface(ifaceBus).Call(ctx, "ListActivatableNames", nil, &names); err != nil {
		return nil, err
	}
	ret := make([]Peer, len(names))
	for i, n := range names {
		ret[i] = c.Peer(n)
	}
	return ret, nil
}

// BusID returns the bus's unique, randomly assigned identifier.
func (c *Conn) BusID(ctx context.Context) (string, error) {
	var id string
	err := c.bus.Interface(ifaceBus).Call(ctx, "GetId", nil, &id)
	return id, err
}

// NameHasOwner reports whether name currently has an owner.
func (c *Conn) NameHasOwner(ctx context.Context, name string) (bool, error) {
	var has bool
	err := c.bus.Interface(ifaceBus).Call(ctx, "NameHasOwner", name, &has)
	return has, err
}

// Features returns the optional feature names the bus daemon
// advertises.
func (c *Conn) Features(ctx context.Context) ([]string, error) {
	var features []string
	err := c.bus.Interface(ifaceBus).GetProperty(ctx, "Features", &features)
	return features, err
}
