// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ServerName is the key the server is registered under in the client config.
const ServerName = "prior-auth"

// ServerEntry is one mcpServers entry of a client config file.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options describe the entry to register.
type Options struct {
	BinaryPath        string
	DataDir           string
	DetectionEndpoint string
}

// Status is the registration state found in a client config.
type Status struct {
	ConfigPath   string   `json:"config_path"`
	Registered   bool     `json:"registered"`
	BinaryPath   string   `json:"binary_path,omitempty"`
	BinaryFound  bool     `json:"binary_found"`
	DataDir      string   `json:"data_dir,omitempty"`
	RecordsReady bool     `json:"records_ready"`
	Issues       []string `json:"issues"`
}

// ClientConfigPath returns the desktop client's config file for this OS.
func ClientConfigPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
	return filepath.Join(dir, "claude_desktop_config.json"), nil
}

// clientConfig keeps every top-level key of the file so unrelated settings survive a rewrite.
type clientConfig struct {
	raw     map[string]json.RawMessage
	servers map[string]json.RawMessage
}

func loadClientConfig(path string) (*clientConfig, error) {
	cfg := &clientConfig{
		raw:     map[string]json.RawMessage{},
		servers: map[string]json.RawMessage{},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg.raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if servers, ok := cfg.raw["mcpServers"]; ok {
		if err := json.Unmarshal(servers, &cfg.servers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
	}
	return cfg, nil
}

func (c *clientConfig) save(path string) error {
	servers, err := json.Marshal(c.servers)
	if err != nil {
		return fmt.Errorf("failed to marshal mcpServers: %w", err)
	}
	c.raw["mcpServers"] = servers

	data, err := json.MarshalIndent(c.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *clientConfig) entry() (*ServerEntry, error) {
	raw, ok := c.servers[ServerName]
	if !ok {
		return nil, nil
	}
	var entry ServerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse %s entry: %w", ServerName, err)
	}
	return &entry, nil
}

// Register adds or replaces the server entry in the client config at path.
func Register(path string, opts Options) (*ServerEntry, error) {
	if opts.BinaryPath == "" {
		return nil, fmt.Errorf("server binary path is required")
	}
	binary, err := filepath.Abs(opts.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve binary path: %w", err)
	}

	cfg, err := loadClientConfig(path)
	if err != nil {
		return nil, err
	}

	entry := &ServerEntry{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["PRIOR_AUTH_DATA_DIR"] = opts.DataDir
	}
	if opts.DetectionEndpoint != "" {
		entry.Env["PRIOR_AUTH_DETECTION_ENDPOINT"] = opts.DetectionEndpoint
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s entry: %w", ServerName, err)
	}
	cfg.servers[ServerName] = raw

	if err := cfg.save(path); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unregister removes the server entry. It reports whether an entry was present.
func Unregister(path string) (bool, error) {
	cfg, err := loadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.servers[ServerName]; !ok {
		return false, nil
	}
	delete(cfg.servers, ServerName)
	return true, cfg.save(path)
}

// Inspect reports the registration at path. defaultDataDir is used when the entry does not
// set one.
func Inspect(path, defaultDataDir string) (*Status, error) {
	status := &Status{ConfigPath: path, DataDir: defaultDataDir, Issues: []string{}}

	cfg, err := loadClientConfig(path)
	if err != nil {
		return nil, err
	}
	entry, err := cfg.entry()
	if err != nil {
		return nil, err
	}

	if entry == nil {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered in %s", ServerName, path))
	} else {
		status.Registered = true
		status.BinaryPath = entry.Command
		if info, err := os.Stat(entry.Command); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
		} else if info.Mode()&0111 == 0 && runtime.GOOS != "windows" {
			status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
		} else {
			status.BinaryFound = true
		}
		if dir := entry.Env["PRIOR_AUTH_DATA_DIR"]; dir != "" {
			status.DataDir = dir
		}
	}

	if status.DataDir != "" {
		if _, err := os.Stat(filepath.Join(status.DataDir, "prior_auth.db")); err == nil {
			status.RecordsReady = true
		} else {
			status.Issues = append(status.Issues, fmt.Sprintf("no lookup database in %s; load it with the seed command", status.DataDir))
		}
	}
	return status, nil
}
