package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Store         StoreConfig   `mapstructure:"store" yaml:"store"`
	Auth          AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Sandbox       SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// HTTPConfig configures the HTTP and websocket server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// StoreConfig selects and configures the room store backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// AuthConfig configures the user store and seed accounts.
type AuthConfig struct {
	UserFile  string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds an account in the user store. TokenHash is the bcrypt
// hash of the token secret; mint real tokens with "coderoom users add".
type SeedUser struct {
	Username    string `mapstructure:"username" yaml:"username"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
	TokenHash   string `mapstructure:"token_hash" yaml:"token_hash"`
}

// SandboxConfig configures the code execution sandbox.
type SandboxConfig struct {
	Runtime            string            `mapstructure:"runtime" yaml:"runtime"`
	WorkspaceRoot      string            `mapstructure:"workspace_root" yaml:"workspace_root"`
	TimeoutSeconds     int               `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MemoryMB           int               `mapstructure:"memory_mb" yaml:"memory_mb"`
	CPUs               float64           `mapstructure:"cpus" yaml:"cpus"`
	PidsLimit          int               `mapstructure:"pids_limit" yaml:"pids_limit"`
	PullTimeoutMinutes int               `mapstructure:"pull_timeout_minutes" yaml:"pull_timeout_minutes"`
	Images             map[string]string `mapstructure:"images" yaml:"images"`
	Containerd         ContainerdConfig  `mapstructure:"containerd" yaml:"containerd"`
	Podman             PodmanConfig      `mapstructure:"podman" yaml:"podman"`
}

// ContainerdConfig configures the containerd runtime endpoint.
type ContainerdConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// PodmanConfig configures the podman runtime endpoint.
type PodmanConfig struct {
	Address    string `mapstructure:"address" yaml:"address"`
	UserNSMode string `mapstructure:"userns_mode" yaml:"userns_mode"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	uid := os.Getuid()
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run", "user", fmt.Sprintf("%d", uid))
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".coderoom", "state"),
		HTTP: HTTPConfig{
			Addr: ":27490",
		},
		Store: StoreConfig{
			Backend:     "file",
			Dir:         filepath.Join(home, ".coderoom", "state", "rooms"),
			PostgresURL: "",
		},
		Auth: AuthConfig{
			UserFile:  filepath.Join(home, ".coderoom", "users.json"),
			SeedUsers: []SeedUser{},
		},
		Sandbox: SandboxConfig{
			Runtime:            "containerd",
			WorkspaceRoot:      filepath.Join(home, ".coderoom", "state", "workspaces"),
			TimeoutSeconds:     15,
			MemoryMB:           128,
			CPUs:               0.5,
			PidsLimit:          64,
			PullTimeoutMinutes: 5,
			Images:             map[string]string{},
			Containerd: ContainerdConfig{
				Address:   fmt.Sprintf("unix://%s", filepath.Join(runtimeDir, "containerd", "containerd.sock")),
				Namespace: "coderoom",
			},
			Podman: PodmanConfig{
				Address:    fmt.Sprintf("unix://%s", filepath.Join(runtimeDir, "podman", "podman.sock")),
				UserNSMode: "keep-id",
			},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coderoom", "config.yaml"), nil
}
