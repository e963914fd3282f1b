package settings

import (
	"os"
	"path/filepath"
)

// Resolver locates the on-disk configuration file for a given role.
type Resolver interface {
	Resolve() (string, error)
}

type defaultResolver struct {
	fileName string
}

// NewResolver builds the OS-appropriate config path resolver, mirroring the
// teacher's client_configuration.Resolver (a dedicated directory under the
// user's config home, created on first use).
func NewResolver(fileName string) Resolver {
	return &defaultResolver{fileName: fileName}
}

func (r *defaultResolver) Resolve() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	appDir := filepath.Join(dir, "tunnelcore")
	if mkErr := os.MkdirAll(appDir, 0o755); mkErr != nil {
		return "", mkErr
	}
	return filepath.Join(appDir, r.fileName), nil
}
