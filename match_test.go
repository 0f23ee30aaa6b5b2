package dbus

import (
	"reflect"
	"testing"
)

type matchTestSignal struct {
	A string
	B ObjectPath
	C string
	D int16
}

type matchTestSignal2 struct {
	A string
	B int16
}

func init() {
	RegisterSignalType[matchTestSignal](ifaceTest, "Signal")
}

const ifaceTest = "org.test.Match"

func TestMatchFilterString(t *testing.T) {
	tests := []struct {
		name string
		m    *Match
		want string
	}{
		{
			name: "all signals",
			m:    MatchAllSignals(),
			want: `type='signal'`,
		},
		{
			name: "by signal",
			m:    NewMatch().Signal(matchTestSignal{}),
			want: `type='signal',interface='org.test.Match',member='Signal'`,
		},
		{
			name: "by sender and object",
			m:    NewMatch().Peer(Peer{name: "org.test.Sender"}).Object(Object{path: "/foo/bar"}),
			want: `type='signal',sender='org.test.Sender',path='/foo/bar'`,
		},
		{
			name: "by object prefix",
			m:    NewMatch().ObjectPrefix("/foo"),
			want: `type='signal',path_namespace='/foo'`,
		},
		{
			name: "arg string match",
			m:    NewMatch().Signal(matchTestSignal{}).ArgStr(0, "hello"),
			want: `type='signal',interface='org.test.Match',member='Signal',arg0='hello'`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.m.filterString()
			if got != tc.want {
				t.Errorf("filterString() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMatchValid(t *testing.T) {
	if err := NewMatch().ArgStr(0, "x").valid(); err == nil {
		t.Error("ArgStr without Signal() should be invalid")
	}
	if err := NewMatch().Signal(matchTestSignal{}).ArgStr(0, "x").valid(); err != nil {
		t.Errorf("ArgStr(0) on a string field should be valid, got %v", err)
	}
	if err := NewMatch().Signal(matchTestSignal{}).ArgStr(1, "x").valid(); err == nil {
		t.Error("ArgStr on a non-string field should be invalid")
	}
}

func TestMatchesSignal(t *testing.T) {
	hdr := func(sender, path, iface, member string) *header {
		return &header{Sender: sender, Path: ObjectPath(path), Interface: iface, Member: member}
	}

	tests := []struct {
		name string
		m    *Match
		hdr  *header
		body any
		want bool
	}{
		{
			name: "matches all",
			m:    MatchAllSignals(),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{},
			want: true,
		},
		{
			name: "wrong member",
			m:    NewMatch().Signal(matchTestSignal{}),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Other"),
			body: &matchTestSignal{},
			want: false,
		},
		{
			name: "object mismatch",
			m:    NewMatch().Object(Object{path: "/expected"}),
			hdr:  hdr("a.b", "/other", ifaceTest, "Signal"),
			body: &matchTestSignal{},
			want: false,
		},
		{
			name: "object prefix match",
			m:    NewMatch().ObjectPrefix("/obj"),
			hdr:  hdr("a.b", "/obj/child", ifaceTest, "Signal"),
			body: &matchTestSignal{},
			want: true,
		},
		{
			name: "arg string match",
			m:    NewMatch().Signal(matchTestSignal{}).ArgStr(0, "hello"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{A: "hello"},
			want: true,
		},
		{
			name: "arg string mismatch",
			m:    NewMatch().Signal(matchTestSignal{}).ArgStr(0, "hello"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{A: "goodbye"},
			want: false,
		},
		{
			name: "arg path prefix match",
			m:    NewMatch().Signal(matchTestSignal{}).ArgPathPrefix(1, "/obj"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{B: "/obj/child"},
			want: true,
		},
		{
			name: "arg0 namespace match",
			m:    NewMatch().Signal(matchTestSignal{}).Arg0Namespace("com.example"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{A: "com.example.Foo"},
			want: true,
		},
		{
			name: "arg0 namespace mismatch",
			m:    NewMatch().Signal(matchTestSignal{}).Arg0Namespace("com.example"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal"),
			body: &matchTestSignal{A: "com.other.Foo"},
			want: false,
		},
		{
			name: "interface member without registered type",
			m:    NewMatch().InterfaceMember(ifaceTest, "Signal2"),
			hdr:  hdr("a.b", "/obj", ifaceTest, "Signal2"),
			body: &matchTestSignal2{},
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.m.matchesSignal(tc.hdr, reflect.ValueOf(tc.body))
			if got != tc.want {
				t.Errorf("matchesSignal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesProperty(t *testing.T) {
	hdr := &header{Sender: "a.b", Path: "/obj", Interface: ifaceProps, Member: "PropertiesChanged"}
	prop := interfaceMember{Interface: ifaceTest, Member: "Count"}

	m := NewMatch().InterfaceMember(ifaceTest, "Count")
	if !m.matchesProperty(hdr, prop, reflect.ValueOf("hello")) {
		t.Error("expected property change to match")
	}

	other := interfaceMember{Interface: ifaceTest, Member: "Other"}
	if m.matchesProperty(hdr, other, reflect.ValueOf("hello")) {
		t.Error("expected property change for a different member not to match")
	}

	// Invalidated properties (zero Value) match unless arg filters are set.
	if !m.matchesProperty(hdr, prop, reflect.Value{}) {
		t.Error("expected invalidated property to match with no arg filters")
	}
	withArg := NewMatch().InterfaceMember(ifaceTest, "Count").ArgStr(0, "hello")
	if withArg.matchesProperty(hdr, prop, reflect.Value{}) {
		t.Error("expected invalidated property with an arg filter not to match")
	}
}
