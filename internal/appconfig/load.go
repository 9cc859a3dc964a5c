package appconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.dir", cfg.Store.Dir)
	v.SetDefault("store.postgres_url", cfg.Store.PostgresURL)
	v.SetDefault("auth.user_file", cfg.Auth.UserFile)
	v.SetDefault("auth.seed_users", cfg.Auth.SeedUsers)
	v.SetDefault("sandbox.runtime", cfg.Sandbox.Runtime)
	v.SetDefault("sandbox.workspace_root", cfg.Sandbox.WorkspaceRoot)
	v.SetDefault("sandbox.timeout_seconds", cfg.Sandbox.TimeoutSeconds)
	v.SetDefault("sandbox.memory_mb", cfg.Sandbox.MemoryMB)
	v.SetDefault("sandbox.cpus", cfg.Sandbox.CPUs)
	v.SetDefault("sandbox.pids_limit", cfg.Sandbox.PidsLimit)
	v.SetDefault("sandbox.pull_timeout_minutes", cfg.Sandbox.PullTimeoutMinutes)
	v.SetDefault("sandbox.images", cfg.Sandbox.Images)
	v.SetDefault("sandbox.containerd.address", cfg.Sandbox.Containerd.Address)
	v.SetDefault("sandbox.containerd.namespace", cfg.Sandbox.Containerd.Namespace)
	v.SetDefault("sandbox.podman.address", cfg.Sandbox.Podman.Address)
	v.SetDefault("sandbox.podman.userns_mode", cfg.Sandbox.Podman.UserNSMode)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		switch v.GetString("store.backend") {
		case "file":
		case "postgres":
			if v.GetString("store.postgres_url") == "" {
				return Config{}, fmt.Errorf("store.postgres_url is required when store.backend is postgres")
			}
		default:
			return Config{}, fmt.Errorf("unsupported store.backend %q", v.GetString("store.backend"))
		}
		switch v.GetString("sandbox.runtime") {
		case "none":
		case "podman":
			if !v.IsSet("sandbox.podman.address") {
				return Config{}, fmt.Errorf("sandbox.podman.address is required for config_version %d", CurrentConfigVersion)
			}
		case "containerd":
			if !v.IsSet("sandbox.containerd.address") {
				return Config{}, fmt.Errorf("sandbox.containerd.address is required for config_version %d", CurrentConfigVersion)
			}
			if !v.IsSet("sandbox.containerd.namespace") {
				return Config{}, fmt.Errorf("sandbox.containerd.namespace is required for config_version %d", CurrentConfigVersion)
			}
		default:
			return Config{}, fmt.Errorf("unsupported sandbox.runtime %q", v.GetString("sandbox.runtime"))
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if cfg.Sandbox.TimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("sandbox.timeout_seconds must be positive")
	}
	return cfg, nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Store.Dir = expandEnv(cfg.Store.Dir)
	cfg.Store.PostgresURL = expandEnv(cfg.Store.PostgresURL)
	cfg.Auth.UserFile = expandEnv(cfg.Auth.UserFile)
	cfg.Sandbox.WorkspaceRoot = expandEnv(cfg.Sandbox.WorkspaceRoot)
	cfg.Sandbox.Containerd.Address = expandEnv(cfg.Sandbox.Containerd.Address)
	cfg.Sandbox.Podman.Address = expandEnv(cfg.Sandbox.Podman.Address)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
