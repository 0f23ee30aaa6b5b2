package dbus

import (
	"context"
	"reflect"
	"strings"

	"github.com/fenwick-labs/gobus/fragments"
)

// ObjectPath identifies an object exported on a bus connection. Valid
// object paths are a root "/" or a '/'-separated sequence of
// elements, each composed of "[A-Za-z0-9_]+", with no trailing slash
// and no empty (".." style) segments.
type ObjectPath string

// Validate reports whether p satisfies the object path grammar.
func (p ObjectPath) Validate() error {
	s := string(p)
	if s == "" {
		return InvalidObjectPathError{Path: s, Reason: "path is empty"}
	}
	if s[0] != '/' {
		return InvalidObjectPathError{Path: s, Reason: "path must start with /"}
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return InvalidObjectPathError{Path: s, Reason: "path must not end with /"}
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return InvalidObjectPathError{Path: s, Reason: "path contains an empty element"}
		}
		for _, r := range elem {
			if !isPathElementChar(r) {
				return InvalidObjectPathError{Path: s, Reason: "path elements may only contain [A-Za-z0-9_]"}
			}
		}
	}
	return nil
}

func isPathElementChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	default:
		return false
	}
}

// Clean returns p with any trailing slash (other than the root path
// itself) removed. DBus object paths may not carry a trailing slash,
// so this exists to tolerate callers who build paths with
// path.Join-style helpers.
func (p ObjectPath) Clean() ObjectPath {
	if p == "/" || p == "" {
		return p
	}
	return ObjectPath(strings.TrimRight(string(p), "/"))
}

// IsChildOf reports whether p is a path strictly nested under parent,
// i.e. shares parent as a leading "/"-delimited prefix.
func (p ObjectPath) IsChildOf(parent ObjectPath) bool {
	ps, pp := string(p), string(parent)
	if pp == "/" {
		return ps != "/" && strings.HasPrefix(ps, "/")
	}
	return strings.HasPrefix(ps, pp+"/")
}

// Split returns the path's elements, e.g. "/com/example/Foo" splits
// into ["com", "example", "Foo"]. The root path splits into nil.
func (p ObjectPath) Split() []string {
	if p == "/" || p == "" {
		return nil
	}
	return strings.Split(string(p)[1:], "/")
}

func (p ObjectPath) MarshalDBus(ctx context.Context, e *fragments.Encoder) error {
	e.String(string(p.Clean()))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(ctx context.Context, d *fragments.Decoder) error {
	s, err := d.String()
	if err != nil {
		return err
	}
	if strings.IndexByte(s, 0) >= 0 {
		return EmbeddedNulError{}
	}
	np := ObjectPath(s)
	if err := np.Validate(); err != nil {
		return err
	}
	*p = np
	return nil
}

func (ObjectPath) IsDBusStruct() bool { return false }

var objectPathSignature = mkSignature(reflect.TypeFor[ObjectPath]())

func (ObjectPath) SignatureDBus() Signature { return objectPathSignature }
