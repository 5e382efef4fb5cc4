package strata

import "testing"

func TestParseLinkURI(t *testing.T) {
	cases := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "bare host:port", uri: "127.0.0.1:5000", want: "127.0.0.1:5000"},
		{name: "rist legacy sender form", uri: "rist://127.0.0.1:5000", want: "127.0.0.1:5000"},
		{name: "rist listener form", uri: "rist://@0.0.0.0:5000", want: "0.0.0.0:5000"},
		{name: "query string stripped", uri: "rist://10.0.0.1:6000?miface=eth0", want: "10.0.0.1:6000"},
		{name: "bare host:port with query", uri: "10.0.0.1:6000?rtt-min=100&buffer=2000", want: "10.0.0.1:6000"},
		{name: "not a host:port", uri: "rist://not-an-address", wantErr: true},
		{name: "empty", uri: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseLinkURI(tc.uri)
			if tc.wantErr {
				if err != ErrNotIPAddress {
					t.Fatalf("expected ErrNotIPAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDialTransportLinkRejectsBadURI(t *testing.T) {
	up := make(chan IncomingFrame, 1)
	_, err := DialTransportLink(LinkConfig{ID: 1, URI: "not-a-valid-uri"}, &NullLogger{}, up)
	if err != ErrNotIPAddress {
		t.Fatalf("expected ErrNotIPAddress, got %v", err)
	}
}

func TestDialTransportLinkAcceptsListenerForm(t *testing.T) {
	up := make(chan IncomingFrame, 1)
	tl, err := DialTransportLink(LinkConfig{ID: 2, URI: "rist://@127.0.0.1:0", Interface: "eth0"}, &NullLogger{}, up)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tl.Close()
	if tl.ID() != 2 {
		t.Fatalf("expected ID 2, got %d", tl.ID())
	}
	if m := tl.Metrics(); m.Iface != "eth0" {
		t.Fatalf("expected Iface eth0, got %q", m.Iface)
	}
}
