package resolverdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOnSessionEstablishedWritesFilesAndSymlinks(t *testing.T) {
	dir := t.TempDir()
	resolverDir := filepath.Join(dir, "resolver")

	a := New([]string{"10.48.0.1"}, []string{"com", "dev"}, resolverDir)
	if err := a.OnSessionEstablished(); err != nil {
		t.Fatalf("OnSessionEstablished: %v", err)
	}

	info, err := os.Lstat(resolverDir)
	if err != nil {
		t.Fatalf("resolver dir not created: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("resolver dir should be a symlink")
	}

	data, err := os.ReadFile(filepath.Join(resolverDir, "com"))
	if err != nil {
		t.Fatalf("reading com file: %v", err)
	}
	if string(data) != "nameserver 10.48.0.1\n" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := a.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Lstat(resolverDir); !os.IsNotExist(err) {
		t.Fatalf("resolver dir should be gone after cleanup, lstat err = %v", err)
	}
}

func TestOnSessionEstablishedPreservesOriginalDir(t *testing.T) {
	dir := t.TempDir()
	resolverDir := filepath.Join(dir, "resolver")
	if err := os.Mkdir(resolverDir, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(resolverDir, "existing")
	if err := os.WriteFile(marker, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := New([]string{"10.48.0.1"}, []string{"com"}, resolverDir)
	if err := a.OnSessionEstablished(); err != nil {
		t.Fatalf("OnSessionEstablished: %v", err)
	}
	if err := a.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	restored, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("original resolver dir not restored: %v", err)
	}
	if string(restored) != "original" {
		t.Fatalf("restored content mismatch: %q", restored)
	}
}

func TestCleanupIsBestEffortWhenNeverEstablished(t *testing.T) {
	a := New([]string{"10.48.0.1"}, []string{"com"}, filepath.Join(t.TempDir(), "resolver"))
	if err := a.Cleanup(); err != nil {
		t.Fatalf("Cleanup on a never-established addon should be a no-op, got: %v", err)
	}
}
