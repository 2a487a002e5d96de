package scanner

import "testing"

func TestMoveRegistryConsumeOnce(t *testing.T) {
	r := NewMoveRegistry()
	r.Expect("/media/a.jpg", "/media/_Edit/a.jpg")

	if !r.Consume("/media/a.jpg") {
		t.Error("first Consume of a registered path = false, want true")
	}
	if r.Consume("/media/a.jpg") {
		t.Error("second Consume of the same path = true, want false")
	}
	if !r.Consume("/media/_Edit/a.jpg") {
		t.Error("other end of the rename not registered")
	}
}

func TestMoveRegistryUnknownPath(t *testing.T) {
	r := NewMoveRegistry()
	if r.Consume("/media/never-announced.jpg") {
		t.Error("Consume of an unannounced path = true, want false")
	}
}

func TestMoveRegistryReExpect(t *testing.T) {
	r := NewMoveRegistry()
	r.Expect("/media/a.jpg")
	if !r.Consume("/media/a.jpg") {
		t.Fatal("first Consume failed")
	}

	// A fresh announcement re-arms the suppression.
	r.Expect("/media/a.jpg")
	if !r.Consume("/media/a.jpg") {
		t.Error("Consume after re-Expect = false, want true")
	}
}
