package dbus

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// ClaimOptions are the options for a [Claim] to a bus name.
type ClaimOptions struct {
	// AllowReplacement is whether to allow a later request that sets
	// TryReplace to take over ownership.
	AllowReplacement bool
	// TryReplace is whether to attempt to replace the current owner,
	// if the name already has one. Replacement only succeeds if the
	// current owner set AllowReplacement.
	TryReplace bool
	// NoQueue, if set, causes this claim to never join the backup
	// queue for the name.
	NoQueue bool
}

// Claim is a claim to ownership of a bus name.
//
// Multiple clients may claim the same name; the bus tracks a single
// current owner plus a queue of claimants eligible to succeed it. The
// [ClaimOptions] each claimant supplies determines the rules of
// succession.
type Claim struct {
	conn *Conn
	watch *Watcher
	name string

	stop        func() error
	pumpStopped chan struct{}

	owner chan bool
	last  bool
}

// Claim requests ownership of a bus name.
//
// Claiming a name does not guarantee ownership. Callers must monitor
// [Claim.Chan] to learn if and when the name is assigned to them.
func (c *Conn) Claim(name string, opts ClaimOptions) (*Claim, error) {
	if err := ValidateBusName(name); err != nil {
		return nil, err
	}

	w, err := c.Watch()
	if err != nil {
		return nil, err
	}
	if _, err := w.Match(MatchNotification[NameAcquired]().ArgStr(0, name)); err != nil {
		w.Close()
		return nil, err
	}
	if _, err := w.Match(MatchNotification[NameLost]().ArgStr(0, name)); err != nil {
		w.Close()
		return nil, err
	}

	ret := &Claim{
		conn:        c,
		watch:       w,
		name:        name,
		pumpStopped: make(chan struct{}),
		owner:       make(chan bool, 1),
	}
	ret.stop = sync.OnceValue(ret.close)

	ret.send(false)
	if err := ret.Request(opts); err != nil {
		w.Close()
		return nil, err
	}
	if err := c.addClaim(ret); err != nil {
		w.Close()
		return nil, err
	}

	go ret.pump()
	return ret, nil
}

func (c *Conn) addClaim(cl *Claim) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.claims.Add(cl)
	return nil
}

func (c *Conn) removeClaim(cl *Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.claims.Remove(cl)
}

// Request makes a new ownership request to the bus for the claimed
// name.
//
// If this Claim is already the current owner, Request updates the
// AllowReplacement and NoQueue settings without relinquishing
// ownership. Otherwise the claim is considered anew, as if made for
// the first time.
//
// Request returns an error if sending the request fails, or if the
// bus reports the name as unavailable (NoQueue is set and another
// connection owns the name). Being placed in the queue is not an
// error.
func (c *Claim) Request(opts ClaimOptions) error {
	_, err := c.conn.RequestName(context.Background(), NameRequest{
		Name:             c.name,
		ReplaceCurrent:   opts.TryReplace,
		NoQueue:          opts.NoQueue,
		AllowReplacement: opts.AllowReplacement,
	})
	return err
}

// Close abandons the claim. If it was the current owner, ownership is
// released and may pass to another claimant.
func (c *Claim) Close() error {
	return c.stop()
}

func (c *Claim) close() error {
	c.conn.removeClaim(c)
	c.watch.Close()
	<-c.pumpStopped
	return c.conn.ReleaseName(context.Background(), c.name)
}

// Name returns the claim's bus name.
func (c *Claim) Name() string { return c.name }

// Chan returns a channel that reports whether this claim currently
// owns the bus name.
func (c *Claim) Chan() <-chan bool { return c.owner }

func (c *Claim) send(isOwner bool) {
	select {
	case c.owner <- isOwner:
	case <-c.owner:
		c.owner <- isOwner
	}
}

func (c *Claim) pump() {
	defer func() {
		if c.last {
			c.send(false)
		}
		close(c.owner)
		close(c.pumpStopped)
	}()
	for n := range c.watch.Chan() {
		notify := false
		switch v := n.Body.(type) {
		case *NameAcquired:
			if v.Name != c.name {
				continue
			}
			notify = !c.last
			c.last = true
		case *NameLost:
			if v.Name != c.name {
				continue
			}
			notify = c.last
			c.last = false
		default:
			panic(fmt.Errorf("claim watcher received unexpected notification: %#v", n))
		}
		if notify {
			c.send(c.last)
		}
	}
}
