package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultWorkspaceDirName is joined with the user home when COMFYGIT_HOME is unset.
	DefaultWorkspaceDirName = "comfygit"

	// DefaultExternalTimeout bounds every HTTP and VCS operation.
	DefaultExternalTimeout = 120 * time.Second

	// DefaultHashWorkers bounds the model hashing worker pool.
	DefaultHashWorkers = 4
)

// Config is the process-wide configuration handle. It is constructed once in
// the CLI layer and passed down; subsystems never reach for globals.
type Config struct {
	WorkspaceRoot string
	Debug         bool

	// External source settings
	CivitAIAPIKey   string
	ExternalTimeout time.Duration

	// Model index settings
	HashWorkers int

	// ModelFileExtensions drives the analyzer's widget scan for custom nodes.
	ModelFileExtensions []string

	// HashIgnoreFields drives workflow content-hash normalization.
	HashIgnoreFields []string
}

// Load resolves configuration from the environment plus an optional
// config.yaml inside the workspace metadata directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMFYGIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("external_timeout", DefaultExternalTimeout)
	v.SetDefault("hash_workers", DefaultHashWorkers)
	v.SetDefault("model_file_extensions", defaultModelExtensions())
	v.SetDefault("hash_ignore_fields", defaultHashIgnoreFields())

	root := v.GetString("home")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		root = filepath.Join(home, DefaultWorkspaceDirName)
	}

	// Optional workspace-local config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(root, ".metadata"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		WorkspaceRoot:       root,
		Debug:               v.GetBool("debug"),
		CivitAIAPIKey:       firstNonEmpty(os.Getenv("CIVITAI_API_KEY"), v.GetString("civitai_api_key")),
		ExternalTimeout:     v.GetDuration("external_timeout"),
		HashWorkers:         v.GetInt("hash_workers"),
		ModelFileExtensions: v.GetStringSlice("model_file_extensions"),
		HashIgnoreFields:    v.GetStringSlice("hash_ignore_fields"),
	}
	if cfg.HashWorkers < 1 {
		cfg.HashWorkers = DefaultHashWorkers
	}
	return cfg, nil
}

func defaultModelExtensions() []string {
	return []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".onnx"}
}

func defaultHashIgnoreFields() []string {
	return []string{"extra.ds", "frontend_version", "revision"}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Workspace layout helpers. Every normative on-disk path is derived here so
// the layout lives in exactly one place.

func (c *Config) MetadataDir() string      { return filepath.Join(c.WorkspaceRoot, ".metadata") }
func (c *Config) WorkspaceJSONPath() string {
	return filepath.Join(c.MetadataDir(), "workspace.json")
}
func (c *Config) ModelsDBPath() string     { return filepath.Join(c.MetadataDir(), "models.db") }
func (c *Config) EnvironmentsDir() string  { return filepath.Join(c.WorkspaceRoot, "environments") }
func (c *Config) ModelsDir() string        { return filepath.Join(c.WorkspaceRoot, "models") }
func (c *Config) CacheDir() string         { return filepath.Join(c.WorkspaceRoot, "cache") }
func (c *Config) NodeCacheDir() string     { return filepath.Join(c.CacheDir(), "custom_nodes") }
func (c *Config) ComfyUICacheDir() string  { return filepath.Join(c.CacheDir(), "comfyui") }
func (c *Config) APICacheDir() string      { return filepath.Join(c.CacheDir(), "api_cache") }

// EnvironmentDir returns the root of a named environment.
func (c *Config) EnvironmentDir(name string) string {
	return filepath.Join(c.EnvironmentsDir(), name)
}
