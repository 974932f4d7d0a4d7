package addr

import "testing"

func TestParse_HostPort(t *testing.T) {
	a, err := Parse("127.0.0.1:27910")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !a.IsLoopback() {
		t.Fatalf("expected loopback, got %s", a.Kind)
	}
	if a.Port != 27910 {
		t.Fatalf("got port %d, want 27910", a.Port)
	}
}

func TestBaseEqual_IgnoresPort(t *testing.T) {
	a, _ := Parse("10.0.0.5:1000")
	b, _ := Parse("10.0.0.5:2000")
	if a.Equal(b) {
		t.Fatal("full Equal should differ across ports")
	}
	if !a.BaseEqual(b) {
		t.Fatal("BaseEqual should ignore port")
	}
	if a.BaseKey() != b.BaseKey() {
		t.Fatalf("BaseKey differs: %s vs %s", a.BaseKey(), b.BaseKey())
	}
}

func TestFromIP_ClassifiesBroadcast(t *testing.T) {
	a, err := Parse("255.255.255.255:27910")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Kind != KindBroadcast {
		t.Fatalf("got kind %s, want broadcast", a.Kind)
	}
}
