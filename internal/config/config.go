package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/redbearlabs/sandbox/internal/language"
)

// RuntimeConfig holds per-runtime host settings.
type RuntimeConfig struct {
	// Path is the host interpreter used for dependency operations.
	Path string `mapstructure:"path"`
	// Root is the sandbox root prepared for this runtime.
	Root string `mapstructure:"root"`
	// LibPaths are host paths copied into the root by `env init`.
	LibPaths []string `mapstructure:"lib_paths"`
}

type ProxyConfig struct {
	Socks5 string `mapstructure:"socks5"`
	HTTP   string `mapstructure:"http"`
	HTTPS  string `mapstructure:"https"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type Config struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	MaxRequests   int           `mapstructure:"max_requests"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`

	EnableNetwork bool `mapstructure:"enable_network"`
	EnablePreload bool `mapstructure:"enable_preload"`

	SandboxUID int `mapstructure:"sandbox_uid"`
	SandboxGID int `mapstructure:"sandbox_gid"`

	// AllowedSyscalls replaces the baseline allow class for every run when
	// set (syscall names).
	AllowedSyscalls []string `mapstructure:"allowed_syscalls"`
	// PolicyFile points at a syscall policy override file handed to the
	// runner.
	PolicyFile string `mapstructure:"policy_file"`
	// RunnerPath locates the sandbox-runner binary. Empty means "next to
	// the current executable".
	RunnerPath string `mapstructure:"runner_path"`

	DepsUpdateInterval time.Duration `mapstructure:"deps_update_interval"`

	Python  RuntimeConfig `mapstructure:"python"`
	Nodejs  RuntimeConfig `mapstructure:"nodejs"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Storage StorageConfig `mapstructure:"storage"`
}

// Runtime returns the host settings for a wire language identifier.
func (c *Config) Runtime(name string) (RuntimeConfig, error) {
	switch name {
	case "python3":
		return c.Python, nil
	case "nodejs":
		return c.Nodejs, nil
	default:
		return RuntimeConfig{}, fmt.Errorf("unknown runtime: %s", name)
	}
}

// Load reads sandbox.yaml from . or $HOME/.sandbox, applies defaults, and
// lets environment variables override individual fields. A missing config
// file is fine; the defaults describe a working local setup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("sandbox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".sandbox"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_workers", 4)
	v.SetDefault("max_requests", 50)
	v.SetDefault("worker_timeout", "30s")
	v.SetDefault("enable_network", true)
	v.SetDefault("enable_preload", false)
	v.SetDefault("sandbox_uid", 65537)
	v.SetDefault("sandbox_gid", 0)
	v.SetDefault("deps_update_interval", "30m")
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".sandbox", "sandbox.db"))

	for _, name := range language.Names() {
		rt, err := language.Lookup(name)
		if err != nil {
			continue
		}
		section := sectionFor(name)
		v.SetDefault(section+".path", rt.Interpreter)
		v.SetDefault(section+".root", rt.DefaultRoot)
		v.SetDefault(section+".lib_paths", rt.LibPaths)
	}
}

func sectionFor(name string) string {
	if name == "python3" {
		return "python"
	}
	return name
}

// bindEnv keeps the original deployment's variable names working.
func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"max_workers":      "MAX_WORKERS",
		"max_requests":     "MAX_REQUESTS",
		"worker_timeout":   "WORKER_TIMEOUT",
		"enable_network":   "ENABLE_NETWORK",
		"enable_preload":   "ENABLE_PRELOAD",
		"allowed_syscalls": "ALLOWED_SYSCALLS",
		"sandbox_uid":      "SANDBOX_UID",
		"sandbox_gid":      "SANDBOX_GID",
		"runner_path":      "RUNNER_PATH",
		"policy_file":      "SANDBOX_POLICY_FILE",
		"proxy.socks5":     "SOCKS5_PROXY",
		"proxy.http":       "HTTP_PROXY",
		"proxy.https":      "HTTPS_PROXY",
		"python.path":      "PYTHON_PATH",
		"python.root":      "PYTHON_ROOT",
		"nodejs.path":      "NODEJS_PATH",
		"nodejs.root":      "NODEJS_ROOT",
		"storage.db_path":  "SANDBOX_DB_PATH",
	}
	for key, env := range bindings {
		v.BindEnv(key, env)
	}
}
