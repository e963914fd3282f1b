package bootstrap

import (
	"testing"

	"tunnelcore/addons/dnsnat"
	"tunnelcore/infrastructure/settings"
)

func TestResolveAddonsUnknownClassFails(t *testing.T) {
	_, err := ResolveAddons([]settings.ComponentRef{{Class: "no-such-addon"}})
	if err == nil {
		t.Fatal("expected an error for an unregistered addon class")
	}
}

func TestResolveAddonsKnownClassBuilds(t *testing.T) {
	factories, err := ResolveAddons([]settings.ComponentRef{
		{Class: dnsnat.Class, Params: []byte(`{"fake":"10.0.0.1","real":"8.8.8.8"}`)},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(factories) != 1 {
		t.Fatalf("got %d factories, want 1", len(factories))
	}
	if _, err := factories[0](); err != nil {
		t.Fatalf("factory: %v", err)
	}
}

// TestResolveRewritersEmptyIsNoop covers the common case (§6 default empty
// rewriters[] array): no entries configured, no error, no rewriters.
func TestResolveRewritersEmptyIsNoop(t *testing.T) {
	rewriters, err := ResolveRewriters(nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(rewriters) != 0 {
		t.Fatalf("got %d rewriters, want 0", len(rewriters))
	}
}

// TestResolveRewritersUnknownClassAborts covers §6's "Unknown class names
// yield a startup error and abort" for the rewriters[] field: since no
// rewriter class is registered (see Rewriters' doc comment), any configured
// entry must fail, never be silently dropped.
func TestResolveRewritersUnknownClassAborts(t *testing.T) {
	_, err := ResolveRewriters([]settings.ComponentRef{{Class: "dns"}})
	if err == nil {
		t.Fatal("expected an error for an unregistered rewriter class")
	}
}
