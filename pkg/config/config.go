// Package config provides configuration file support for hookctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/webhook"
)

// FileName is the configuration file looked up at the project root.
const FileName = "hookctl.yaml"

// Config represents the hookctl configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
	Trash    TrashConfig    `yaml:"trash"`
	VCS      VCSConfig      `yaml:"vcs"`
	Webhooks webhook.Config `yaml:"webhooks"`

	// Root is the project root every relative path is resolved against.
	Root string `yaml:"-"`
}

// PathsConfig locates the filesystem layout. Relative paths are project-root relative.
type PathsConfig struct {
	HooksDir     string `yaml:"hooks_dir"`
	SandboxRoot  string `yaml:"sandbox_root"` // defaults to hooks_dir
	ManifestsDir string `yaml:"manifests_dir"`
	TrashDir     string `yaml:"trash_dir"`
	LogsDir      string `yaml:"logs_dir"`
	ReportPath   string `yaml:"report_path"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"` // json, text
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// AuditConfig configures the usage audit.
type AuditConfig struct {
	HookExtensions     []string `yaml:"hook_extensions"`
	ManifestExtensions []string `yaml:"manifest_extensions"`
	SkipDirs           []string `yaml:"skip_dirs"`
}

// TrashConfig configures trash expiry and the purge lock.
type TrashConfig struct {
	ExpiryDays int    `yaml:"expiry_days"`
	LockTTL    string `yaml:"lock_ttl"`
}

// VCSConfig configures version-control-aware deletion.
type VCSConfig struct {
	Command  string `yaml:"command"`
	Disabled bool   `yaml:"disabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			HooksDir:     "src/hooks",
			ManifestsDir: "src/manifests",
			TrashDir:     ".trash/hooks",
			LogsDir:      "logs",
			ReportPath:   "logs/hook-audit-report.json",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			MaxSizeBytes: 1 << 20,
		},
		Audit: AuditConfig{
			HookExtensions:     []string{".go", ".sh", ".ts", ".js", ".so"},
			ManifestExtensions: []string{".json", ".yaml", ".yml", ".toml"},
			SkipDirs:           []string{".git", "node_modules", "vendor"},
		},
		Trash: TrashConfig{
			ExpiryDays: 30,
			LockTTL:    "10m",
		},
		VCS: VCSConfig{
			Command: "git",
		},
		Webhooks: webhook.DefaultConfig(),
	}
}

// Load loads configuration from path, or from <projectRoot>/hookctl.yaml when
// path is empty. A missing default file yields the defaults.
func Load(projectRoot, path string) (*Config, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	cfg := Default()
	cfg.Root = root

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, errclass.ErrConfig.WithMessagef("read config: %v", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfig.WithMessagef("parse config %s: %v", path, err)
	}
	cfg.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to <Root>/hookctl.yaml.
func Save(cfg *Config) error {
	cfgPath := filepath.Join(cfg.Root, FileName)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate rejects configurations the components cannot work with.
func (c *Config) Validate() error {
	if len(c.Audit.HookExtensions) == 0 {
		return errclass.ErrConfig.WithMessage("audit.hook_extensions must not be empty")
	}
	if len(c.Audit.ManifestExtensions) == 0 {
		return errclass.ErrConfig.WithMessage("audit.manifest_extensions must not be empty")
	}
	for _, ext := range append(append([]string{}, c.Audit.HookExtensions...), c.Audit.ManifestExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return errclass.ErrConfig.WithMessagef("extension %q must start with '.'", ext)
		}
	}
	if c.Logging.MaxSizeBytes <= 0 {
		return errclass.ErrConfig.WithMessage("logging.max_size_bytes must be positive")
	}
	if c.Trash.ExpiryDays < 0 {
		return errclass.ErrConfig.WithMessage("trash.expiry_days must not be negative")
	}
	if _, err := c.LockTTL(); err != nil {
		return err
	}
	for _, h := range c.Webhooks.Hooks {
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return errclass.ErrConfig.WithMessagef("webhook url %q must be http or https", h.URL)
		}
	}
	if c.Paths.HooksDir == "" || c.Paths.TrashDir == "" || c.Paths.LogsDir == "" {
		return errclass.ErrConfig.WithMessage("paths.hooks_dir, paths.trash_dir and paths.logs_dir are required")
	}
	return nil
}

// LockTTL parses trash.lock_ttl.
func (c *Config) LockTTL() (time.Duration, error) {
	if c.Trash.LockTTL == "" {
		return 10 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Trash.LockTTL)
	if err != nil || d <= 0 {
		return 0, errclass.ErrConfig.WithMessagef("invalid trash.lock_ttl %q", c.Trash.LockTTL)
	}
	return d, nil
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// HooksDir is the canonical hooks directory, also the restore destination.
func (c *Config) HooksDir() string { return c.abs(c.Paths.HooksDir) }

// SandboxRoot is the directory all dynamically loaded hook code must resolve under.
func (c *Config) SandboxRoot() string {
	if c.Paths.SandboxRoot == "" {
		return c.HooksDir()
	}
	return c.abs(c.Paths.SandboxRoot)
}

func (c *Config) ManifestsDir() string { return c.abs(c.Paths.ManifestsDir) }
func (c *Config) TrashDir() string     { return c.abs(c.Paths.TrashDir) }
func (c *Config) LogsDir() string      { return c.abs(c.Paths.LogsDir) }
func (c *Config) ReportPath() string   { return c.abs(c.Paths.ReportPath) }

// SkipDirs returns the directory names and absolute paths the usage scan skips.
func (c *Config) SkipDirs() []string {
	out := append([]string{}, c.Audit.SkipDirs...)
	return append(out, c.TrashDir(), c.LogsDir())
}

// SkipFiles returns the absolute paths of files the usage scan ignores.
func (c *Config) SkipFiles() []string {
	return []string{c.ReportPath()}
}
