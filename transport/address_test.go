package transport

import (
	"reflect"
	"testing"
)

func TestParseAddressList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Address
	}{
		{
			name: "single unix path",
			in:   "unix:path=/run/dbus/system_bus_socket",
			want: []Address{{Scheme: "unix", Params: map[string]string{"path": "/run/dbus/system_bus_socket"}}},
		},
		{
			name: "multiple alternatives",
			in:   "unix:path=/a;tcp:host=localhost,port=1234",
			want: []Address{
				{Scheme: "unix", Params: map[string]string{"path": "/a"}},
				{Scheme: "tcp", Params: map[string]string{"host": "localhost", "port": "1234"}},
			},
		},
		{
			name: "percent escaped value",
			in:   "unix:path=/run/has%20space",
			want: []Address{{Scheme: "unix", Params: map[string]string{"path": "/run/has space"}}},
		},
		{
			name: "abstract socket",
			in:   "unix:abstract=/tmp/dbus-test",
			want: []Address{{Scheme: "unix", Params: map[string]string{"abstract": "/tmp/dbus-test"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddressList(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ParseAddressList(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseAddressListErrors(t *testing.T) {
	for _, in := range []string{
		"nocolon",
		"unix:badparam",
		"unix:path=%zz",
	} {
		if _, err := ParseAddressList(in); err == nil {
			t.Errorf("ParseAddressList(%q) succeeded, want error", in)
		}
	}
}

func TestUnixSocketPath(t *testing.T) {
	tests := []struct {
		a    Address
		want string
	}{
		{Address{Params: map[string]string{"path": "/run/bus"}}, "/run/bus"},
		{Address{Params: map[string]string{"abstract": "foo"}}, "@foo"},
	}
	for _, tc := range tests {
		got, err := unixSocketPath(tc.a)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("unixSocketPath(%#v) = %q, want %q", tc.a, got, tc.want)
		}
	}

	if _, err := unixSocketPath(Address{Params: map[string]string{}}); err == nil {
		t.Error("expected error for address with no path/abstract/runtime")
	}
}
