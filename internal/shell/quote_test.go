package shell

import "testing"

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"/workspace":        "'/workspace'",
		"":                  "''",
		"it's a path":       `'it'\''s a path'`,
		"'''":               `''\'''\'''\'''`,
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
