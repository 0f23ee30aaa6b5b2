package transport

import (
	"fmt"
	"strings"
)

// Address is one parsed alternative from a D-Bus server address
// string, e.g. "unix:path=/run/dbus/system_bus_socket".
type Address struct {
	Scheme string
	Params map[string]string
}

// ParseAddressList parses a ';'-separated D-Bus address string into
// its component addresses.
func ParseAddressList(s string) ([]Address, error) {
	var out []Address
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		a, err := parseAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func parseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, fmt.Errorf("transport: address %q is missing a ':'", s)
	}
	params := map[string]string{}
	for _, kv := range strings.Split(rest, ",") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Address{}, fmt.Errorf("transport: malformed address parameter %q", kv)
		}
		unescaped, err := unescapeAddressValue(v)
		if err != nil {
			return Address{}, fmt.Errorf("transport: address parameter %q: %w", kv, err)
		}
		params[k] = unescaped
	}
	return Address{Scheme: scheme, Params: params}, nil
}

// unescapeAddressValue undoes the percent-encoding that D-Bus address
// values use to escape characters outside [-_/\.\\*A-Za-z0-9].
func unescapeAddressValue(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated percent-escape in %q", s)
		}
		hi, lo := s[i+1], s[i+2]
		v, err := hexNibble(hi)
		if err != nil {
			return "", err
		}
		v2, err := hexNibble(lo)
		if err != nil {
			return "", err
		}
		b.WriteByte(v<<4 | v2)
		i += 2
	}
	return b.String(), nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}
