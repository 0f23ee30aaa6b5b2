// Package transport implements the byte-stream layer of a D-Bus
// connection: address resolution, the SASL authentication handshake,
// and (on platforms that support it) passing file descriptors
// alongside message bytes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Transport is a raw, post-authentication D-Bus byte stream.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that were attached to
	// previously read bytes as ancillary data. It does not wait: if
	// fewer than n files have been received, it returns an error.
	GetFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Write, but additionally sends the given
	// files as ancillary data. Transports that cannot pass file
	// descriptors (e.g. TCP) return an error if len(fds) > 0.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
	// SupportsFileDescriptors reports whether this transport is
	// capable of carrying file descriptors at all. It says nothing
	// about whether NEGOTIATE_UNIX_FD succeeded for this connection.
	SupportsFileDescriptors() bool
}

// Options configure how a Transport is dialed and authenticated.
type Options struct {
	// AuthMethods lists SASL mechanisms to attempt, in order. If
	// empty, defaults to ["EXTERNAL", "ANONYMOUS"].
	AuthMethods []string
	// NegotiateUnixFD requests unix file descriptor passing during
	// authentication, if the transport supports it. The zero value
	// (false) does not request it.
	NegotiateUnixFD bool
}

func (o Options) authMethods() []string {
	if len(o.AuthMethods) == 0 {
		return []string{"EXTERNAL", "ANONYMOUS"}
	}
	return o.AuthMethods
}

// Dial connects to the bus described by address, following the
// scheme-dispatch rules of the D-Bus specification, and runs the SASL
// handshake to completion.
//
// address may name multiple alternatives separated by ';'; the first
// one that dials and authenticates successfully is used.
func Dial(ctx context.Context, address string, opts Options) (Transport, error) {
	addrs, err := ParseAddressList(address)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.New("transport: empty address list")
	}

	var errs []error
	for _, a := range addrs {
		t, err := dialOne(ctx, a, opts)
		if err == nil {
			return t, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.Scheme, err))
	}
	return nil, fmt.Errorf("transport: could not connect to any address in %q: %w", address, errors.Join(errs...))
}

func dialOne(ctx context.Context, a Address, opts Options) (Transport, error) {
	switch a.Scheme {
	case "unix":
		return dialUnix(ctx, a, opts)
	case "tcp":
		return dialTCP(ctx, a, opts)
	case "launchd":
		path, err := launchdSocketPath(a.Params["env"])
		if err != nil {
			return nil, err
		}
		return dialUnix(ctx, Address{Scheme: "unix", Params: map[string]string{"path": path}}, opts)
	default:
		return nil, fmt.Errorf("unsupported address scheme %q", a.Scheme)
	}
}

func launchdSocketPath(envVar string) (string, error) {
	if envVar == "" {
		return "", errors.New("launchd: address is missing env= parameter")
	}
	path := os.Getenv(envVar)
	if path == "" {
		return "", fmt.Errorf("launchd: environment variable %s is not set", envVar)
	}
	return path, nil
}

// DefaultSessionAddress resolves the session bus address using the
// standard environment-variable and well-known-default search order.
func DefaultSessionAddress() (string, error) {
	if addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix:path=" + strings.TrimRight(dir, "/") + "/bus", nil
	}
	return "", errors.New("transport: DBUS_SESSION_BUS_ADDRESS is not set and no well-known default is available")
}

// DefaultSystemAddress resolves the system bus address using the
// standard environment-variable and well-known-default search order.
func DefaultSystemAddress() (string, error) {
	if addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	return "unix:path=/var/run/dbus/system_bus_socket", nil
}
