package portforward

import "testing"

func TestSplitProxyPath(t *testing.T) {
	cases := []struct {
		prefix, path, wantRest string
		wantPort               int
		wantErr                bool
	}{
		{"/proxy", "/proxy/8080/api/things", "/api/things", 8080, false},
		{"/proxy", "/proxy/3000", "/", 3000, false},
		{"/proxy", "/proxy/", "", 0, true},
		{"/proxy", "/proxy", "", 0, true},
	}
	for _, c := range cases {
		port, rest, err := splitProxyPath(c.prefix, c.path)
		if c.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", c.path)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.path, err)
		}
		if port != c.wantPort || rest != c.wantRest {
			t.Errorf("%q: got (%d, %q), want (%d, %q)", c.path, port, rest, c.wantPort, c.wantRest)
		}
	}
}
