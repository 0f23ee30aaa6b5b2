package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

func dialTCP(ctx context.Context, a Address, opts Options) (Transport, error) {
	host, port := a.Params["host"], a.Params["port"]
	if host == "" || port == "" {
		return nil, errors.New("tcp: address is missing host= or port=")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}

	ret := &tcpTransport{conn: conn}
	ret.buf = bufio.NewReader(conn)

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			ret.Close()
			return nil, err
		}
	}

	mechs := opts.authMethods()
	guid, _, err := authenticate(tcpAuthConn{ret}, mechs, false, false)
	if err != nil {
		ret.Close()
		return nil, err
	}
	ret.guid = guid

	if err := conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}
	return ret, nil
}

type tcpAuthConn struct{ t *tcpTransport }

func (c tcpAuthConn) Read(bs []byte) (int, error)  { return c.t.buf.Read(bs) }
func (c tcpAuthConn) Write(bs []byte) (int, error) { return c.t.conn.Write(bs) }

// tcpTransport is a Transport over a plain TCP stream. It cannot
// carry file descriptors; D-Bus services that hand out fds (e.g.
// file-backed properties) are unreachable over this transport.
type tcpTransport struct {
	conn net.Conn
	buf  *bufio.Reader
	guid string
}

func (t *tcpTransport) Read(bs []byte) (int, error)  { return t.buf.Read(bs) }
func (t *tcpTransport) Write(bs []byte) (int, error) { return t.conn.Write(bs) }
func (t *tcpTransport) Close() error                 { return t.conn.Close() }

func (t *tcpTransport) SupportsFileDescriptors() bool { return false }

func (t *tcpTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		return 0, errors.New("tcp: transport cannot carry file descriptors")
	}
	return t.Write(bs)
}

func (t *tcpTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, fmt.Errorf("tcp: transport cannot carry file descriptors, requested %d", n)
}
