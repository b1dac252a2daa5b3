package eventbridge

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/apkalias/internal/config"
)

const (
	// DefaultHost keeps the bridge on loopback unless configured otherwise.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the bridge port the Gradle hook posts to.
	DefaultPort = 8765
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultReadTimeout        = 15 * time.Second
	DefaultWriteTimeout       = 15 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Environment variables that override the project's bridge section.
const (
	EnvEnabled = "APKALIAS_BRIDGE_ENABLED"
	EnvHost    = "APKALIAS_BRIDGE_HOST"
	EnvPort    = "APKALIAS_BRIDGE_PORT"
)

// Settings captures runtime configuration for the HTTP event bridge server.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// SettingsFromConfig layers the project's bridge section and the
// APKALIAS_BRIDGE_* environment over the defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	return settingsFrom(cfg, os.LookupEnv)
}

func settingsFrom(cfg *config.Config, lookup func(string) (string, bool)) Settings {
	s := DefaultSettings()
	if cfg != nil {
		bridge := cfg.Project.Bridge
		if bridge.Enabled != nil {
			s.Enabled = *bridge.Enabled
		}
		if host := strings.TrimSpace(bridge.Host); host != "" {
			s.Host = host
		}
		if validPort(bridge.Port) {
			s.Port = bridge.Port
		}
	}
	if lookup != nil {
		s.applyEnv(lookup)
	}
	return s
}

// applyEnv ignores values that do not parse so a typo never disables the bridge.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) {
	if raw, ok := env(lookup, EnvEnabled); ok {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			s.Enabled = enabled
		}
	}
	if host, ok := env(lookup, EnvHost); ok {
		s.Host = host
	}
	if raw, ok := env(lookup, EnvPort); ok {
		if port, err := strconv.Atoi(raw); err == nil && validPort(port) {
			s.Port = port
		}
	}
}

func env(lookup func(string) (string, bool), key string) (string, bool) {
	raw, ok := lookup(key)
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

// Validate reports settings that would prevent the server from starting.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("eventbridge: host is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("eventbridge: port %d out of range", s.Port)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("eventbridge: max body bytes must be positive")
	}
	return nil
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
