package dbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"net"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/fenwick-labs/gobus/fragments"
	"github.com/fenwick-labs/gobus/transport"
)

// Options configures a [Dial].
type Options struct {
	// Transport controls SASL mechanism negotiation and unix-fd
	// support for the underlying transport.
	Transport transport.Options
}

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context) (*Conn, error) {
	addr, err := transport.DefaultSystemAddress()
	if err != nil {
		return nil, err
	}
	return Dial(ctx, addr, Options{})
}

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context) (*Conn, error) {
	addr, err := transport.DefaultSessionAddress()
	if err != nil {
		return nil, fmt.Errorf("dbus: session bus address not available: %w", err)
	}
	return Dial(ctx, addr, Options{})
}

// Dial connects to the bus at address, performs the SASL handshake,
// and calls Hello to obtain a unique bus name.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	t, err := transport.Dial(ctx, address, opts.Transport)
	if err != nil {
		return nil, err
	}
	ret := &Conn{
		t: t,
		enc: fragments.Encoder{
			Order:  fragments.NativeEndian,
			Mapper: encoderFor,
		},
		calls:    map[uint32]*pendingCall{},
		router:   newServiceRouter(),
		watchers: mapset.New[*Watcher](),
		claims:   mapset.New[*Claim](),
	}
	ret.bus = ret.Peer(busName).Object(busPath)
	ret.router.conn = ret

	go ret.readLoop()

	if err := ret.bus.Interface(ifaceBus).Call(ctx, "Hello", nil, &ret.clientID); err != nil {
		ret.Close()
		return nil, fmt.Errorf("dbus: getting unique bus name: %w", err)
	}

	return ret, nil
}

// Conn is a DBus connection: a single authenticated transport shared
// by an outgoing call table, an incoming method dispatcher, and any
// number of signal watchers.
type Conn struct {
	t        transport.Transport
	clientID string

	bus Object

	writeMu sync.Mutex
	enc     fragments.Encoder
	encBody []byte
	encHdr  []byte

	mu         sync.Mutex
	closed     bool
	calls      map[uint32]*pendingCall
	lastSerial uint32
	watchers   mapset.Set[*Watcher]
	claims     mapset.Set[*Claim]

	router *ServiceRouter
}

type pendingCall struct {
	notify chan struct{}
	resp   any
	err    error
}

// Close closes the DBus connection, canceling any pending calls and
// stopping any active watchers and claims.
func (c *Conn) Close() error {
	var (
		pend map[uint32]*pendingCall
		ws   mapset.Set[*Watcher]
		cs   mapset.Set[*Claim]
	)
	c.mu.Lock()
	c.closed = true
	pend, c.calls = c.calls, nil
	ws, c.watchers = c.watchers, nil
	cs, c.claims = c.claims, nil
	c.mu.Unlock()

	for _, p := range pend {
		p.err = net.ErrClosed
		close(p.notify)
	}
	for w := range ws {
		w.Close()
	}
	for cl := range cs {
		cl.Close()
	}
	return c.t.Close()
}

// LocalName returns the connection's unique bus name, as assigned by
// the bus at Hello.
func (c *Conn) LocalName() string { return c.clientID }

// Peer returns a handle to the given bus name.
//
// The returned value is a purely local handle. It does not indicate
// that the named peer exists or is reachable.
func (c *Conn) Peer(name string) Peer {
	return Peer{c: c, name: name}
}

func (c *Conn) writeMsg(ctx context.Context, hdr *header, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var files []*os.File
	c.encBody = c.encBody[:0]
	if body != nil {
		bodyCtx := withContextPutFiles(ctx, &files)
		c.enc.Out = c.encBody
		if err := c.enc.Value(bodyCtx, body); err != nil {
			return err
		}
		sig, err := SignatureOf(body)
		if err != nil {
			return err
		}
		hdr.Length = uint32(len(c.enc.Out))
		hdr.Signature = sig.asMsgBody()
		hdr.NumFDs = uint32(len(files))
		c.encBody = c.enc.Out
	}

	c.enc.Out = c.encHdr[:0]
	if err := c.enc.Value(ctx, hdr); err != nil {
		return err
	}
	c.encHdr = c.enc.Out

	if _, err := c.t.WriteWithFiles(c.encHdr, files); err != nil {
		return err
	}
	if len(c.encBody) > 0 {
		if _, err := c.t.Write(c.encBody); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		if err := c.dispatchMsg(); errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			log.Printf("dbus: read error: %v", err)
		}
	}
}

type msg struct {
	header
	order fragments.ByteOrder
	body  []byte
	files []*os.File
}

func (m *msg) decoder() *fragments.Decoder {
	return &fragments.Decoder{
		Order:  m.order,
		Mapper: decoderFor,
		In:     bytes.NewReader(m.body),
	}
}

// readMsg reads one complete message from the transport. Must only be
// called from the single reader goroutine.
func (c *Conn) readMsg() (*msg, error) {
	dec := fragments.Decoder{
		Order:  fragments.NativeEndian,
		Mapper: decoderFor,
		In:     c.t,
	}
	var ret msg
	if err := dec.Value(context.Background(), &ret.header); err != nil {
		return nil, err
	}
	if ret.header.Length > maxMessageBodyLength {
		return nil, MessageTooLongError{Length: int(ret.header.Length)}
	}
	body := make([]byte, ret.header.Length)
	if _, err := io.ReadFull(c.t, body); err != nil {
		return nil, err
	}
	ret.body = body
	ret.order = dec.Order
	files, err := c.t.GetFiles(int(ret.header.NumFDs))
	if err != nil {
		return nil, err
	}
	ret.files = files
	return &ret, nil
}

// maxMessageBodyLength is the DBus-specified maximum size of a
// message body.
const maxMessageBodyLength = 128 << 20

func (c *Conn) dispatchMsg() error {
	m, err := c.readMsg()
	if err != nil {
		// The byte stream can no longer be trusted to be framed
		// correctly, so the connection is closed and pending calls
		// fail.
		c.Close()
		return err
	}
	if err := m.Valid(); err != nil {
		return fmt.Errorf("dbus: received invalid header: %w", err)
	}

	ctx := context.Background()
	if m.Sender != "" {
		ctx = withContextSender(ctx, c.Peer(m.Sender).Object(m.Path).Interface(m.Interface))
	}
	if len(m.files) > 0 {
		ctx = withContextFiles(ctx, m.files)
	}

	switch m.Type {
	case msgTypeCall:
		go c.dispatchCall(ctx, m)
	case msgTypeReturn:
		return c.dispatchReturn(m)
	case msgTypeError:
		return c.dispatchErr(m)
	case msgTypeSignal:
		return c.dispatchSignal(ctx, m)
	}
	return nil
}

func (c *Conn) nextSerial() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	c.lastSerial++
	return c.lastSerial
}

func (c *Conn) dispatchCall(ctx context.Context, m *msg) {
	serial := c.nextSerial()
	respHdr := &header{
		Type:        msgTypeReturn,
		Version:     1,
		Serial:      serial,
		Destination: m.Sender,
		ReplySerial: m.Serial,
	}

	resp, err := c.router.dispatch(ctx, m.Path, m.Interface, m.Member, m.decoder())
	if err != nil {
		respHdr.Type = msgTypeError
		respHdr.ErrName, respHdr.Serial = errNameFor(err), serial
		if werr := c.writeMsg(ctx, respHdr, err.Error()); werr != nil {
			log.Printf("dbus: writing error reply: %v", werr)
		}
		return
	}
	if m.WantReply() {
		if werr := c.writeMsg(ctx, respHdr, resp); werr != nil {
			log.Printf("dbus: writing reply: %v", werr)
		}
	}
}

func errNameFor(err error) string {
	switch err.(type) {
	case UnknownObjectError:
		return ErrNameUnknownObject
	case UnknownInterfaceError:
		return ErrNameUnknownInterface
	case UnknownMethodError:
		return ErrNameUnknownMethod
	case UnknownPropertyError:
		return ErrNameUnknownProperty
	case PropertyReadOnlyError, PropertyWriteOnlyError:
		return ErrNamePropertyReadOnly
	case InvalidArgsError:
		return ErrNameInvalidArgs
	default:
		return ErrNameFailed
	}
}

func (c *Conn) dispatchReturn(m *msg) error {
	pending := c.popCall(m.ReplySerial)
	if pending == nil {
		return nil
	}
	if pending.resp != nil {
		if err := m.decoder().Value(context.Background(), pending.resp); err != nil {
			return err
		}
	}
	close(pending.notify)
	return nil
}

func (c *Conn) dispatchErr(m *msg) error {
	pending := c.popCall(m.ReplySerial)
	if pending == nil {
		return nil
	}

	detail := ""
	if !m.Signature.IsZero() {
		if s, err := m.decoder().String(); err == nil {
			detail = s
		}
	}
	pending.err = CallError{Name: m.ErrName, Detail: detail}
	close(pending.notify)
	return nil
}

func (c *Conn) popCall(serial uint32) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := c.calls[serial]
	delete(c.calls, serial)
	return ret
}

func (c *Conn) dispatchSignal(ctx context.Context, m *msg) error {
	var propErr error
	if m.Interface == ifaceProps && m.Member == "PropertiesChanged" {
		propErr = c.dispatchPropChange(ctx, m)
	}

	signalType := signalTypeFor(m.Interface, m.Member)
	if signalType == nil {
		if t := m.Signature.Type(); t != nil {
			signalType = t
		} else {
			signalType = reflect.TypeFor[struct{}]()
		}
	}

	sender, _ := ContextSender(ctx)

	signal := reflect.New(signalType)
	if err := m.decoder().Value(ctx, signal.Interface()); err != nil {
		return errors.Join(propErr, err)
	}

	for w := range c.lockedWatchers() {
		w.deliverSignal(sender, &m.header, signal)
	}
	return propErr
}

func (c *Conn) dispatchPropChange(ctx context.Context, m *msg) error {
	body := m.decoder()
	iface, err := body.String()
	if err != nil {
		return err
	}
	sender, _ := ContextSender(ctx)
	emitter := sender.Object().Interface(iface)

	var changed map[string]Variant
	if err := body.Value(ctx, &changed); err != nil {
		return err
	}
	var invalidated []string
	if err := body.Value(ctx, &invalidated); err != nil {
		return err
	}

	for name, v := range changed {
		for w := range c.lockedWatchers() {
			w.deliverProp(emitter, &m.header, interfaceMember{iface, name}, reflect.ValueOf(v.Value))
		}
	}
	for _, name := range invalidated {
		for w := range c.lockedWatchers() {
			w.deliverProp(emitter, &m.header, interfaceMember{iface, name}, reflect.Value{})
		}
	}
	return nil
}

func (c *Conn) lockedWatchers() mapset.Set[*Watcher] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.watchers)
}

// call issues a method call and blocks for the response, unless
// noReply is set.
func (c *Conn) call(ctx context.Context, destination string, path ObjectPath, iface, method string, body any, response any, noReply bool) error {
	if response != nil && reflect.TypeOf(response).Kind() != reflect.Pointer {
		return errors.New("dbus: response parameter in Call must be a pointer, or nil")
	}

	serial, pending := func() (uint32, *pendingCall) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0, nil
		}
		c.lastSerial++
		pend := &pendingCall{
			notify: make(chan struct{}),
			resp:   response,
		}
		c.calls[c.lastSerial] = pend
		return c.lastSerial, pend
	}()
	if pending == nil {
		return net.ErrClosed
	}
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls[serial] == pending {
			delete(c.calls, serial)
		}
	}()

	hdr := header{
		Type:        msgTypeCall,
		Version:     1,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}
	if noReply {
		hdr.Flags |= 0x1
	}
	if err := hdr.Valid(); err != nil {
		return err
	}

	if err := c.writeMsg(context.Background(), &hdr, body); err != nil {
		return err
	}
	if noReply {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		// Calls without a caller-supplied deadline time out after 25s.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
	}

	select {
	case <-pending.notify:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitSignal broadcasts signal from obj.
//
// The signal's type should generally be registered in advance with
// [RegisterSignalType], so that recipients can decode it by name.
func (c *Conn) EmitSignal(ctx context.Context, obj ObjectPath, signal any) error {
	t := reflect.TypeOf(signal)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	k, ok := signalNameFor(t)
	if !ok {
		return fmt.Errorf("dbus: unknown signal type %s, use RegisterSignalType first", t)
	}
	hdr := header{
		Type:      msgTypeSignal,
		Version:   1,
		Serial:    c.nextSerial(),
		Path:      obj,
		Interface: k.Interface,
		Member:    k.Member,
	}
	return c.writeMsg(ctx, &hdr, signal)
}
