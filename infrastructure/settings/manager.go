package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ClientConfigManager loads (and lazily creates) the client-side configuration file.
type ClientConfigManager struct {
	resolver Resolver
}

func NewClientConfigManager(resolver Resolver) *ClientConfigManager {
	return &ClientConfigManager{resolver: resolver}
}

func (m *ClientConfigManager) Configuration() (*ClientConfig, error) {
	path, err := m.resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client configuration path: %w", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file (%s) is unreadable: %w", path, statErr)
		}
		def := NewDefaultClientConfig()
		if writeErr := writeJSON(path, def); writeErr != nil {
			return nil, fmt.Errorf("could not write default client configuration: %w", writeErr)
		}
		return def, nil
	}

	var conf ClientConfig
	if err := readJSON(path, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// ServerConfigManager loads (and lazily creates) the server-side configuration file.
type ServerConfigManager struct {
	resolver Resolver
}

func NewServerConfigManager(resolver Resolver) *ServerConfigManager {
	return &ServerConfigManager{resolver: resolver}
}

func (m *ServerConfigManager) Configuration() (*ServerConfig, error) {
	path, err := m.resolver.Resolve()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server configuration path: %w", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("configuration file (%s) is unreadable: %w", path, statErr)
		}
		def := NewDefaultServerConfig()
		if writeErr := writeJSON(path, def); writeErr != nil {
			return nil, fmt.Errorf("could not write default server configuration: %w", writeErr)
		}
		return def, nil
	}

	var conf ServerConfig
	if err := readJSON(path, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("configuration file (%s) is unreadable: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("configuration file (%s) is invalid: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
