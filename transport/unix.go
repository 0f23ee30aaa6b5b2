package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

func dialUnix(ctx context.Context, a Address, opts Options) (Transport, error) {
	path, err := unixSocketPath(a)
	if err != nil {
		return nil, err
	}

	addr := &net.UnixAddr{Net: "unix", Name: path}
	var d net.Dialer
	rawConn, err := d.DialContext(ctx, "unix", addr.String())
	if err != nil {
		return nil, err
	}
	conn := rawConn.(*net.UnixConn)

	ret := &unixTransport{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
	ret.buf = bufio.NewReader(funcReader(ret.readToBuf))

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			ret.Close()
			return nil, err
		}
	}

	guid, gotFD, err := authenticate(unixAuthConn{ret}, opts.authMethods(), opts.NegotiateUnixFD, true)
	if err != nil {
		ret.Close()
		return nil, err
	}
	ret.guid = guid
	ret.gotUnixFD = gotFD

	if err := conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}
	return ret, nil
}

// unixSocketPath resolves a unix: address into a concrete filesystem
// or abstract socket path.
func unixSocketPath(a Address) (string, error) {
	if p, ok := a.Params["path"]; ok {
		return p, nil
	}
	if p, ok := a.Params["abstract"]; ok {
		return "@" + p, nil
	}
	if a.Params["runtime"] == "yes" {
		dir := os.Getenv("XDG_RUNTIME_DIR")
		if dir == "" {
			return "", errors.New("unix: runtime=yes requires XDG_RUNTIME_DIR to be set")
		}
		return dir + "/bus", nil
	}
	return "", errors.New("unix: address has none of path=, abstract=, runtime=yes")
}

// unixAuthConn adapts unixTransport to io.ReadWriter for the duration
// of the SASL handshake, reading through the same buffered reader
// that will later carry binary message traffic.
type unixAuthConn struct {
	t *unixTransport
}

func (c unixAuthConn) Read(bs []byte) (int, error)  { return c.t.buf.Read(bs) }
func (c unixAuthConn) Write(bs []byte) (int, error) { return c.t.conn.Write(bs) }

// unixTransport is a Transport that runs over a Unix domain socket,
// optionally carrying file descriptors as SCM_RIGHTS ancillary data.
type unixTransport struct {
	conn      *net.UnixConn
	oob       [512]byte
	buf       *bufio.Reader
	fds       *queue.Queue[*os.File]
	guid      string
	gotUnixFD bool
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	return u.buf.Read(bs)
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) Close() error {
	u.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	u.fds.Clear()
	u.buf.Discard(u.buf.Buffered())
	return u.conn.Close()
}

func (u *unixTransport) SupportsFileDescriptors() bool { return true }

func (u *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return u.Write(bs)
	}
	if !u.gotUnixFD {
		return 0, errors.New("transport: peer did not negotiate unix fd passing")
	}

	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		u.Close()
		return n, err
	}
	if oobn != len(scm) {
		u.Close()
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (u *unixTransport) GetFiles(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := u.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("transport: requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func (u *unixTransport) readToBuf(bs []byte) (int, error) {
	n, oobn, flags, _, err := u.conn.ReadMsgUnix(bs, u.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		u.Close()
		return 0, errors.New("transport: control message truncated")
	}
	if oobn > 0 {
		if oobErr := u.parseFDs(u.oob[:oobn]); oobErr != nil {
			u.Close()
			return 0, oobErr
		}
	}
	if err != nil {
		u.Close()
		return 0, err
	}
	return n, nil
}

func (u *unixTransport) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Keep parsing past an error so every fd in the message gets
	// extracted and can be closed; bailing early would leak fds.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("transport: parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("transport: invalid file descriptor %d received on socket", fd))
			} else {
				u.fds.Add(f)
			}
		}
	}
	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	return nil
}

type funcReader func([]byte) (int, error)

func (f funcReader) Read(bs []byte) (int, error) {
	return f(bs)
}
