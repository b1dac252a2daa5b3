// internal/config/config.go
//
// This package handles configuration and the .apkalias directory structure.
// Every project that uses apkalias gets a .apkalias/ folder next to its
// Android build scripts.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".apkalias"

	// DefaultPrefix is prepended to every copied artifact name.
	DefaultPrefix = "Yatrika-A smart trip planner-"
	// DefaultExtension selects Android application packages.
	DefaultExtension = "apk"
	// DefaultBuildDir is where Gradle writes outputs, relative to the project.
	DefaultBuildDir = "build"
	// DefaultDebounce is how long the watcher waits for writes to settle.
	DefaultDebounce = 750 * time.Millisecond
)

// DefaultCandidateDirs lists the output directories checked, in order,
// relative to the build directory.
var DefaultCandidateDirs = []string{
	"app/outputs/flutter-apk",
	"outputs/flutter-apk",
	"app/outputs/apk",
	"outputs/apk",
}

// DefaultStages are the build stages finalized by the copy step.
var DefaultStages = []string{"assembleRelease", "assembleDebug"}

const defaultProjectConfigYAML = `# apkalias project configuration
version: 1

# Gradle build output root, relative to the project directory.
build_dir: build

artifacts:
  extension: apk
  # Copies are named <prefix><original name>; originals are kept.
  prefix: "Yatrika-A smart trip planner-"
  # Checked in order, relative to build_dir. Missing directories are skipped.
  candidate_dirs:
    - app/outputs/flutter-apk
    - outputs/flutter-apk
    - app/outputs/apk
    - outputs/apk

# Build stages that trigger the copy once they finish.
stages:
  - assembleRelease
  - assembleDebug

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765

watch:
  debounce: 750ms
`

// ArtifactConfig describes which files get copied and how they are named.
type ArtifactConfig struct {
	Extension     string   `yaml:"extension"`
	Prefix        string   `yaml:"prefix"`
	CandidateDirs []string `yaml:"candidate_dirs"`
}

// BridgeConfig captures the optional HTTP event bridge settings.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// WatchConfig tunes the filesystem watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// ProjectConfig models .apkalias/config.yaml.
type ProjectConfig struct {
	Version   int            `yaml:"version"`
	BuildDir  string         `yaml:"build_dir"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	Stages    []string       `yaml:"stages"`
	Bridge    BridgeConfig   `yaml:"bridge"`
	Watch     WatchConfig    `yaml:"watch"`
}

// Config holds the runtime configuration for apkalias.
type Config struct {
	// ProjectDir is the Android project root (the directory holding build.gradle)
	ProjectDir string

	// StateRoot is ProjectDir/.apkalias
	StateRoot string

	Project ProjectConfig
}

// InitDir creates the .apkalias directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .apkalias/
// ├── config.yaml
// ├── logs/     <- zap operational log
// └── state/    <- history.log journal and last-run.json
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig creates a Config populated with project settings. A missing
// config.yaml yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir: abs,
		StateRoot:  filepath.Join(abs, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateRoot, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.StateRoot, "state")
}

// HistoryPath returns the logbook location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir(), "history.log")
}

// LastRunPath returns where the most recent run manifest is stored.
func (c *Config) LastRunPath() string {
	return filepath.Join(c.StateDir(), "last-run.json")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// BuildDir returns the absolute build output root.
func (c *Config) BuildDir() string {
	return c.Project.BuildDir
}

// CandidateDirs returns the absolute candidate directories in check order.
func (c *Config) CandidateDirs() []string {
	dirs := make([]string, 0, len(c.Project.Artifacts.CandidateDirs))
	for _, dir := range c.Project.Artifacts.CandidateDirs {
		dirs = append(dirs, resolvePath(c.BuildDir(), dir))
	}
	return dirs
}

// Prefix returns the configured name prefix.
func (c *Config) Prefix() string {
	return c.Project.Artifacts.Prefix
}

// Extension returns the configured artifact extension without a leading dot.
func (c *Config) Extension() string {
	return c.Project.Artifacts.Extension
}

// Stages returns the build stages the copy step finalizes.
func (c *Config) Stages() []string {
	return append([]string{}, c.Project.Stages...)
}

// Debounce returns the watcher settle interval.
func (c *Config) Debounce() time.Duration {
	return c.Project.Watch.Debounce
}

// ApplyOverrides merges key/value overrides (from --set or --config-file)
// into the loaded project config and re-validates it.
func (c *Config) ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	for key, raw := range overrides {
		value := strings.TrimSpace(fmt.Sprint(raw))
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "prefix":
			// Prefix whitespace is significant, keep it verbatim.
			prefix := fmt.Sprint(raw)
			if raw == nil || prefix == "" {
				return fmt.Errorf("config: override prefix must not be empty")
			}
			c.Project.Artifacts.Prefix = prefix
		case "extension":
			c.Project.Artifacts.Extension = value
		case "build_dir":
			c.Project.BuildDir = value
		case "candidate_dirs":
			c.Project.Artifacts.CandidateDirs = splitList(raw)
		case "stages":
			c.Project.Stages = splitList(raw)
		default:
			return fmt.Errorf("config: unknown override %q", key)
		}
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		data = nil
	}

	parsed := ProjectConfig{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	parsed.applyDefaults()
	parsed.applyEnvOverrides()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.BuildDir) == "" {
		pc.BuildDir = DefaultBuildDir
	}
	if strings.TrimSpace(pc.Artifacts.Extension) == "" {
		pc.Artifacts.Extension = DefaultExtension
	}
	if pc.Artifacts.Prefix == "" {
		pc.Artifacts.Prefix = DefaultPrefix
	}
	if len(pc.Artifacts.CandidateDirs) == 0 {
		pc.Artifacts.CandidateDirs = append([]string{}, DefaultCandidateDirs...)
	}
	if len(pc.Stages) == 0 {
		pc.Stages = append([]string{}, DefaultStages...)
	}
	if pc.Watch.Debounce <= 0 {
		pc.Watch.Debounce = DefaultDebounce
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if dir := strings.TrimSpace(os.Getenv("APKALIAS_BUILD_DIR")); dir != "" {
		pc.BuildDir = dir
	}
	if prefix := os.Getenv("APKALIAS_PREFIX"); prefix != "" {
		pc.Artifacts.Prefix = prefix
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.BuildDir = resolvePath(base, pc.BuildDir)
	pc.Artifacts.Extension = strings.TrimPrefix(strings.TrimSpace(pc.Artifacts.Extension), ".")
	dirs := make([]string, 0, len(pc.Artifacts.CandidateDirs))
	for _, dir := range pc.Artifacts.CandidateDirs {
		if trimmed := strings.TrimSpace(dir); trimmed != "" {
			dirs = append(dirs, filepath.Clean(trimmed))
		}
	}
	pc.Artifacts.CandidateDirs = dirs
	stages := make([]string, 0, len(pc.Stages))
	for _, stage := range pc.Stages {
		if trimmed := strings.TrimSpace(stage); trimmed != "" {
			stages = append(stages, trimmed)
		}
	}
	pc.Stages = stages
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Artifacts.Prefix == "" {
		return fmt.Errorf("artifacts.prefix is required")
	}
	if strings.ContainsAny(pc.Artifacts.Prefix, `/\`) {
		return fmt.Errorf("artifacts.prefix must not contain path separators")
	}
	if pc.Artifacts.Extension == "" {
		return fmt.Errorf("artifacts.extension is required")
	}
	if len(pc.Artifacts.CandidateDirs) == 0 {
		return fmt.Errorf("artifacts.candidate_dirs must list at least one directory")
	}
	if len(pc.Stages) == 0 {
		return fmt.Errorf("stages must list at least one build stage")
	}
	seen := map[string]bool{}
	for i, stage := range pc.Stages {
		key := strings.ToLower(stage)
		if seen[key] {
			return fmt.Errorf("stages[%d]: duplicate stage %s", i, stage)
		}
		seen[key] = true
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	return nil
}

func splitList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return strings.Split(fmt.Sprint(raw), ",")
	}
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
