package dbus

import "testing"

func TestValidateBusName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"org.freedesktop.DBus", false},
		{"com.example.Foo.Bar", false},
		{":1.42", false},
		{":1.42.99", false},
		{"", true},
		{"singleword", true},
		{"org.1foo.Bar", true},
		{"org..Bar", true},
		{"org.foo.Bar!", true},
	}
	for _, tc := range tests {
		err := ValidateBusName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateBusName(%q) = %v, want error: %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestValidateInterfaceName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"org.freedesktop.DBus.Peer", false},
		{"a.b", false},
		{"", true},
		{"NoDots", true},
		{"org.1bad.Name", true},
		{"org.bad-name.Foo", true},
	}
	for _, tc := range tests {
		err := ValidateInterfaceName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateInterfaceName(%q) = %v, want error: %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestValidateMemberName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"Ping", false},
		{"_leading_underscore", false},
		{"", true},
		{"has.dot", true},
		{"1StartsWithDigit", true},
		{"has-dash", true},
	}
	for _, tc := range tests {
		err := ValidateMemberName(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateMemberName(%q) = %v, want error: %v", tc.name, err, tc.wantErr)
		}
	}
}
