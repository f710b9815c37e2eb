package dedup

import "testing"

func TestKeyIsStableAndDistinguishesContent(t *testing.T) {
	a := Key("POST", "/v1/chat", `{"x":1}`)
	b := Key("POST", "/v1/chat", `{"x":1}`)
	c := Key("POST", "/v1/chat", `{"x":2}`)

	if a != b {
		t.Fatal("identical requests must fingerprint identically")
	}
	if a == c {
		t.Fatal("different bodies must fingerprint differently")
	}
}

func TestTryAdmitCoalescesDuplicates(t *testing.T) {
	d := New()
	key := Key("GET", "/v1/models", "")

	if !d.TryAdmit(key) {
		t.Fatal("first admission should succeed")
	}
	if d.TryAdmit(key) {
		t.Fatal("second concurrent instance should be dropped as a duplicate")
	}
	if d.InFlightCount() != 1 {
		t.Fatalf("expected 1 in-flight fingerprint, got %d", d.InFlightCount())
	}
}

func TestReleaseAllowsReadmission(t *testing.T) {
	d := New()
	key := Key("GET", "/v1/models", "")

	d.TryAdmit(key)
	d.Release(key)

	if !d.TryAdmit(key) {
		t.Fatal("expected readmission after release")
	}
	if d.InFlightCount() != 1 {
		t.Fatalf("expected 1 in-flight fingerprint after readmission, got %d", d.InFlightCount())
	}
}
