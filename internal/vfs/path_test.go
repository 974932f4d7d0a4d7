package vfs

import "testing"

func TestCanonicalize_RejectsTraversal(t *testing.T) {
	cases := []string{
		"../etc/passwd",
		"maps/../../../etc/passwd",
		"/absolute/path",
		`maps\win.bsp`,
		"noslash",
		"",
		"maps/./x.bsp",
		"maps//x.bsp",
		"maps/\x01x.bsp",
	}
	for _, c := range cases {
		if _, err := Canonicalize(c); err == nil {
			t.Errorf("Canonicalize(%q) = nil error, want ErrUnsafePath", c)
		}
	}
}

func TestCanonicalize_AcceptsAndLowercases(t *testing.T) {
	got, err := Canonicalize("Maps/Q2DM1.BSP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "maps/q2dm1.bsp" {
		t.Fatalf("got %q, want maps/q2dm1.bsp", got)
	}
}

func FuzzCanonicalize(f *testing.F) {
	f.Add("maps/q2dm1.bsp")
	f.Add("../../etc/passwd")
	f.Add("")
	f.Fuzz(func(t *testing.T, p string) {
		_, _ = Canonicalize(p)
	})
}
