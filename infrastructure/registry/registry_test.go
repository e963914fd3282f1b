package registry

import "testing"

func TestRegistryBuildsRegisteredClass(t *testing.T) {
	r := New[string]()
	r.Register("echo", func(params []byte) (string, error) {
		return string(params), nil
	})

	got, err := r.Build("echo", []byte("hello"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestRegistryBuildUnknownClassFails(t *testing.T) {
	r := New[string]()
	if _, err := r.Build("missing", nil); err == nil {
		t.Fatal("expected an error for an unregistered class")
	}
}

func TestRegistryDuplicateRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := New[string]()
	ctor := func(params []byte) (string, error) { return "", nil }
	r.Register("dup", ctor)
	r.Register("dup", ctor)
}
