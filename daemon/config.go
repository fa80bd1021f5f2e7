package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is where the daemon looks for its entries unless told
// otherwise.
const DefaultConfigPath = "/etc/wirewarden/daemon.toml"

// File is the daemon's on-disk configuration: one entry per control plane
// this host answers to. It is reread every cycle, so `connect` can append
// entries without a restart.
type File struct {
	Servers []ServerEntry `toml:"servers"`
}

// ServerEntry points at one control plane. The token is also the server's
// identity there, so it must be unique within the file.
type ServerEntry struct {
	APIHost  string `toml:"api_host"`
	APIToken string `toml:"api_token"`
}

// Load reads the config file. A missing file is an empty config, not an
// error: a fresh host may start the daemon before its first connect.
func Load(path string) (File, error) {
	var file File
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return file, nil
}

// Save writes the config atomically with owner-only permissions; the file
// carries api tokens.
func Save(path string, file File) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %q: %w", dir, err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config file %q: %w", path, err)
	}
	return nil
}

// ValidateNewEntry rejects an entry whose token is already registered. Two
// entries sharing a token would fight over the same interface.
func ValidateNewEntry(file File, entry ServerEntry) error {
	for _, existing := range file.Servers {
		if existing.APIToken == entry.APIToken {
			return fmt.Errorf("api token already registered for %s", existing.APIHost)
		}
	}
	return nil
}
