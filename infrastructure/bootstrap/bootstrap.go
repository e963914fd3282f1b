// Package bootstrap populates the startup-time registries (§9 "Dynamic
// class instantiation by name") and resolves configuration ComponentRefs
// against them. Device and Link aren't registered here: their managers need
// shared runtime values (host, port, logger) a bare JSON-params constructor
// doesn't carry, so cmd/ switches on their class strings directly (§6); only
// rewriters and addons, which are fully self-described by their params, go
// through the generic registry.
package bootstrap

import (
	"fmt"

	"tunnelcore/addons/dnsnat"
	"tunnelcore/addons/resolverdir"
	"tunnelcore/application/addon"
	"tunnelcore/application/rewriter"
	"tunnelcore/infrastructure/registry"
	"tunnelcore/infrastructure/settings"
)

// Addons is the process-wide registry of addon classes. Populated once, at
// package init, so an unknown class string fails configuration loading
// before any session is constructed (§7 Configuration error).
var Addons = registry.New[addon.Addon]()

// Rewriters is the process-wide registry of standalone rewriters[].class
// entries (§6). It is intentionally empty: the pure Rewriter func type
// (§4.4, §9's "Rewriter signature mismatch" resolution) has no slot for a
// lifecycle, and the one rewriter this implementation ships
// (addons/dnsnat) needs exactly that — a sweep goroutine with a Cleanup —
// so it is addon-installed (§4.5's "addon may install a rewriter callback")
// rather than registered here. A configured rewriters[] entry therefore
// still goes through ResolveRewriters and, correctly, always fails with an
// unknown-class error (§6); the default empty rewriters[] array resolves to
// no rewriters without one.
var Rewriters = registry.New[rewriter.Rewriter]()

func init() {
	Addons.Register(dnsnat.Class, dnsnat.Construct)
	Addons.Register(resolverdir.Class, resolverdir.Construct)
}

// ResolveAddons turns configured addon ComponentRefs into the factory slice
// session.Config.AddonFactories expects: one factory per ref, each building
// a fresh instance (a session's own, not shared across sessions) (§4.5).
func ResolveAddons(refs []settings.ComponentRef) ([]func() (addon.Addon, error), error) {
	factories := make([]func() (addon.Addon, error), 0, len(refs))
	for _, ref := range refs {
		ref := ref
		if !Addons.Has(ref.Class) {
			return nil, fmt.Errorf("bootstrap: unknown addon class %q", ref.Class)
		}
		factories = append(factories, func() (addon.Addon, error) {
			return Addons.Build(ref.Class, ref.Params)
		})
	}
	return factories, nil
}

// ResolveRewriters turns configured rewriter ComponentRefs into the concrete
// Rewriter slice supervisor.Config.NewRewriters expects, validating every
// class upfront (§6, §7 Configuration error): an unknown class aborts
// configuration loading before any session is constructed.
func ResolveRewriters(refs []settings.ComponentRef) ([]rewriter.Rewriter, error) {
	rewriters := make([]rewriter.Rewriter, 0, len(refs))
	for _, ref := range refs {
		if !Rewriters.Has(ref.Class) {
			return nil, fmt.Errorf("bootstrap: unknown rewriter class %q", ref.Class)
		}
		r, err := Rewriters.Build(ref.Class, ref.Params)
		if err != nil {
			return nil, err
		}
		rewriters = append(rewriters, r)
	}
	return rewriters, nil
}
