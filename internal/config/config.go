// Package config loads stopgate settings from defaults, a global YAML file,
// a project YAML file and STOPGATE_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fakeyudi/stopgate/internal/policy"
)

const (
	// EnvPrefix marks environment variables that override file settings.
	EnvPrefix = "STOPGATE_"
	// ProjectFile is read from the project directory.
	ProjectFile = ".stopgate.yaml"

	MinJudgeTimeout = 5 * time.Second
	MaxJudgeTimeout = 120 * time.Second

	maxConfigFileSize = 1024 * 1024
)

// Config holds all configurable stopgate settings.
type Config struct {
	Judge   JudgeConfig   `koanf:"judge"`
	Limits  LimitsConfig  `koanf:"limits"`
	Storage StorageConfig `koanf:"storage"`
	Diff    DiffConfig    `koanf:"diff"`
	Log     LogConfig     `koanf:"log"`
	Watch   WatchConfig   `koanf:"watch"`
}

type JudgeConfig struct {
	Executable     string        `koanf:"executable"`
	Model          string        `koanf:"model"`
	Timeout        time.Duration `koanf:"timeout"` // clamped to [MinJudgeTimeout, MaxJudgeTimeout]
	MaxOutputBytes int           `koanf:"max_output_bytes"`
}

type LimitsConfig struct {
	MaxConsecutiveFailures int `koanf:"max_consecutive_failures"`
	MaxTotalAttempts       int `koanf:"max_total_attempts"`
	NoProgressThreshold    int `koanf:"no_progress_threshold"`
	RegressionDivisor      int `koanf:"regression_divisor"`
}

type StorageConfig struct {
	Dir              string `koanf:"dir"` // relative paths resolve against the hook cwd
	LedgerFile       string `koanf:"ledger_file"`
	ArchiveCorrupted bool   `koanf:"archive_corrupted"`
}

type DiffConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // json | console
	File   string `koanf:"file"`   // empty means stderr
}

type WatchConfig struct {
	IgnorePatterns []string      `koanf:"ignore_patterns"`
	Debounce       time.Duration `koanf:"debounce"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	t := policy.DefaultThresholds()
	return Config{
		Judge: JudgeConfig{
			Executable:     "claude",
			Model:          "sonnet",
			Timeout:        30 * time.Second,
			MaxOutputBytes: 1024 * 1024,
		},
		Limits: LimitsConfig{
			MaxConsecutiveFailures: t.MaxConsecutiveFailures,
			MaxTotalAttempts:       t.MaxTotalAttempts,
			NoProgressThreshold:    t.NoProgressThreshold,
			RegressionDivisor:      t.RegressionDivisor,
		},
		Storage: StorageConfig{
			Dir:              ".stopgate",
			LedgerFile:       "ledger.json",
			ArchiveCorrupted: true,
		},
		Diff: DiffConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			IgnorePatterns: []string{},
			Debounce:       500 * time.Millisecond,
		},
	}
}

// GlobalPath returns ~/.config/stopgate/config.yaml.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "stopgate", "config.yaml"), nil
}

// Load reads the global file, the project file in projectDir and the
// environment. Missing files are skipped.
func Load(projectDir string) (*Config, error) {
	global, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return LoadFiles(global, filepath.Join(projectDir, ProjectFile))
}

// LoadFiles layers defaults, globalPath, projectPath and STOPGATE_* env vars.
// Either path may be empty or absent. A file that exists but cannot be parsed
// yields a *ParseError.
func LoadFiles(globalPath, projectPath string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range []string{globalPath, projectPath} {
		if path == "" {
			continue
		}
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Judge.Timeout = ClampTimeout(cfg.Judge.Timeout)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() > maxConfigFileSize {
		return &ParseError{Path: path, Err: fmt.Errorf("file exceeds %d bytes", maxConfigFileSize)}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// envKey maps STOPGATE_JUDGE_MAX_OUTPUT_BYTES to judge.max_output_bytes by
// splitting on the first underscore after the prefix.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// ClampTimeout bounds an oracle timeout. Zero or negative means the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return Defaults().Judge.Timeout
	case d < MinJudgeTimeout:
		return MinJudgeTimeout
	case d > MaxJudgeTimeout:
		return MaxJudgeTimeout
	}
	return d
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Judge.Executable == "" {
		errs = append(errs, errors.New("judge.executable must not be empty"))
	}
	if c.Judge.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("judge.max_output_bytes must be positive"))
	}
	for name, v := range map[string]int{
		"limits.max_consecutive_failures": c.Limits.MaxConsecutiveFailures,
		"limits.max_total_attempts":       c.Limits.MaxTotalAttempts,
		"limits.no_progress_threshold":    c.Limits.NoProgressThreshold,
		"limits.regression_divisor":       c.Limits.RegressionDivisor,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", name, v))
		}
	}
	if c.Limits.NoProgressThreshold >= c.Limits.MaxConsecutiveFailures {
		errs = append(errs, fmt.Errorf("limits.no_progress_threshold (%d) must be below limits.max_consecutive_failures (%d)",
			c.Limits.NoProgressThreshold, c.Limits.MaxConsecutiveFailures))
	}
	if c.Storage.Dir == "" || c.Storage.LedgerFile == "" {
		errs = append(errs, errors.New("storage.dir and storage.ledger_file must not be empty"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Thresholds converts the limits section for the policy package.
func (c *Config) Thresholds() policy.Thresholds {
	return policy.Thresholds{
		MaxConsecutiveFailures: c.Limits.MaxConsecutiveFailures,
		MaxTotalAttempts:       c.Limits.MaxTotalAttempts,
		NoProgressThreshold:    c.Limits.NoProgressThreshold,
		RegressionDivisor:      c.Limits.RegressionDivisor,
	}
}

// LedgerDir resolves the storage directory against cwd.
func (c *Config) LedgerDir(cwd string) string {
	if filepath.IsAbs(c.Storage.Dir) || cwd == "" {
		return c.Storage.Dir
	}
	return filepath.Join(cwd, c.Storage.Dir)
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
