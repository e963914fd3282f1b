// Package resolverdir implements §6's resolver-directory addon, grounded on
// the original source's core/addons/nameserver_override.py (NameserversEditor):
// on session establishment it writes one `nameserver <ip>` file per
// configured top-level domain into a fresh temp directory, then atomically
// symlinks the OS resolver directory to it, preserving any prior directory
// by rename. Cleanup reverses this unconditionally and best-effort.
package resolverdir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tunnelcore/application/addon"
)

// Class is this addon's registry tag (§9, §6 Configuration addons[].class).
const Class = "resolverdir"

// DefaultTLDs is used when params omits "tlds": the original fetched this
// list from a Mozilla TLD dump (core/utils/tld.py, out of scope per §1); a
// short static list covers the common case without that network fetch.
var DefaultTLDs = []string{"com", "net", "org", "io", "dev"}

type configParams struct {
	Nameservers []string `json:"nameservers"`
	TLDs        []string `json:"tlds,omitempty"`
	ResolverDir string   `json:"resolver_dir,omitempty"`
}

// Construct is the registry.Registry[addon.Addon] constructor for Class.
func Construct(raw []byte) (addon.Addon, error) {
	var p configParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("resolverdir: invalid params: %w", err)
	}
	if len(p.Nameservers) == 0 {
		return nil, fmt.Errorf("resolverdir: nameservers is required")
	}
	tlds := p.TLDs
	if len(tlds) == 0 {
		tlds = DefaultTLDs
	}
	resolverDir := p.ResolverDir
	if resolverDir == "" {
		resolverDir = "/etc/resolver"
	}
	return New(p.Nameservers, tlds, resolverDir), nil
}

// Addon swaps resolverDir for a symlink to a directory of per-TLD
// nameserver files while the session is established.
type Addon struct {
	nameservers []string
	tlds        []string
	resolverDir string

	tmpDir      string
	originalDir string
	hadOriginal bool
	linked      bool
}

func New(nameservers, tlds []string, resolverDir string) *Addon {
	return &Addon{nameservers: nameservers, tlds: tlds, resolverDir: resolverDir}
}

// Setup is a no-op: the swap happens in OnSessionEstablished, matching the
// source's NameserversEditor.on_session_established -> set() (§4.5).
func (a *Addon) Setup(addon.Host) error { return nil }

// OnSessionEstablished performs the swap. Failures are logged by the caller
// (§4.5, §7) and never abort the session; this method returns the error so
// the session can log it, but leaves whatever partial state resulted for
// Cleanup to unwind.
func (a *Addon) OnSessionEstablished() error {
	content := ""
	for _, ns := range a.nameservers {
		content += "nameserver " + ns + "\n"
	}

	tmpDir, err := os.MkdirTemp("", "resolverdir-")
	if err != nil {
		return fmt.Errorf("resolverdir: create temp dir: %w", err)
	}
	a.tmpDir = tmpDir

	for _, tld := range a.tlds {
		if err := os.WriteFile(filepath.Join(tmpDir, tld), []byte(content), 0o644); err != nil {
			return fmt.Errorf("resolverdir: write %s: %w", tld, err)
		}
	}

	if info, statErr := os.Lstat(a.resolverDir); statErr == nil && info != nil {
		original := fmt.Sprintf("%s_%d", a.resolverDir, time.Now().Unix())
		if err := os.Rename(a.resolverDir, original); err != nil {
			return fmt.Errorf("resolverdir: preserve original resolver dir: %w", err)
		}
		a.originalDir = original
		a.hadOriginal = true
	}

	if err := os.Symlink(tmpDir, a.resolverDir); err != nil {
		return fmt.Errorf("resolverdir: symlink %s -> %s: %w", a.resolverDir, tmpDir, err)
	}
	a.linked = true
	return nil
}

// Cleanup unlinks the symlink, removes the temp directory, and restores the
// original resolver directory if one was preserved — unconditionally and
// best-effort, even if OnSessionEstablished never ran or partially failed
// (§4.5, §4.7, §7).
func (a *Addon) Cleanup() error {
	var firstErr error
	if a.linked {
		if err := os.Remove(a.resolverDir); err != nil && firstErr == nil {
			firstErr = err
		}
		a.linked = false
	}
	if a.tmpDir != "" {
		if err := os.RemoveAll(a.tmpDir); err != nil && firstErr == nil {
			firstErr = err
		}
		a.tmpDir = ""
	}
	if a.hadOriginal {
		if err := os.Rename(a.originalDir, a.resolverDir); err != nil && firstErr == nil {
			firstErr = err
		}
		a.hadOriginal = false
	}
	return firstErr
}

var _ addon.Addon = (*Addon)(nil)
