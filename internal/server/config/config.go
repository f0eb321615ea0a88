package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportDocker = "docker"
	TransportSSH    = "ssh"
)

// Config is the server configuration, read from .env and the environment.
type Config struct {
	DatabaseURL string
	APIHost     string
	APIPort     string
	JWTSecret   string

	LogLevel string
	LogJSON  bool

	OpenVPN OpenVPNConfig
	Sync    SyncConfig
}

type OpenVPNConfig struct {
	Transport  string
	Container  string
	SacliPath  string
	SSHAddr    string
	SSHUser    string
	SSHKeyPath string
	// known_hosts file pinning the Access Server host key
	SSHKnownHosts string
	Timeout       time.Duration
}

type SyncConfig struct {
	IntervalMinutes int
	AutoStart       bool
	DeleteOrphaned  bool
	Concurrency     int
}

// LoadEnv loads a .env file if present. Returns false when none was found.
func LoadEnv() bool {
	return godotenv.Load() == nil
}

// Load builds a Config from environment variables. Call LoadEnv first to
// pick up a .env file.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIHost:     getEnv("API_HOST", "0.0.0.0"),
		APIPort:     getEnv("API_PORT", "8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getBool("LOG_JSON", false),
		OpenVPN: OpenVPNConfig{
			Transport:     strings.ToLower(getEnv("OPENVPN_TRANSPORT", TransportDocker)),
			Container:     getEnv("OPENVPN_CONTAINER", "openvpn-as"),
			SacliPath:     getEnv("OPENVPN_SACLI_PATH", "sacli"),
			SSHAddr:       os.Getenv("OPENVPN_SSH_ADDR"),
			SSHUser:       getEnv("OPENVPN_SSH_USER", "root"),
			SSHKeyPath:    os.Getenv("OPENVPN_SSH_KEY_PATH"),
			SSHKnownHosts: os.Getenv("OPENVPN_SSH_KNOWN_HOSTS"),
		},
		Sync: SyncConfig{
			AutoStart:      getBool("SYNC_AUTO_START", true),
			DeleteOrphaned: getBool("SYNC_DELETE_ORPHANED", false),
		},
	}

	timeout, err := time.ParseDuration(getEnv("SACLI_TIMEOUT", "20s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SACLI_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("SACLI_TIMEOUT must be positive")
	}
	cfg.OpenVPN.Timeout = timeout

	if cfg.Sync.IntervalMinutes, err = getInt("SYNC_INTERVAL_MINUTES", 5); err != nil {
		return nil, err
	}
	if cfg.Sync.IntervalMinutes < 1 || cfg.Sync.IntervalMinutes > 60 {
		return nil, fmt.Errorf("SYNC_INTERVAL_MINUTES must be between 1 and 60, got %d", cfg.Sync.IntervalMinutes)
	}

	if cfg.Sync.Concurrency, err = getInt("SYNC_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.Sync.Concurrency < 1 {
		cfg.Sync.Concurrency = 1
	}
	if cfg.Sync.Concurrency > 8 {
		cfg.Sync.Concurrency = 8
	}

	switch cfg.OpenVPN.Transport {
	case TransportDocker:
	case TransportSSH:
		if cfg.OpenVPN.SSHAddr == "" || cfg.OpenVPN.SSHKeyPath == "" {
			return nil, fmt.Errorf("OPENVPN_SSH_ADDR and OPENVPN_SSH_KEY_PATH are required for ssh transport")
		}
		if cfg.OpenVPN.SSHKnownHosts == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("OPENVPN_SSH_KNOWN_HOSTS is not set and the home directory is unknown: %w", err)
			}
			cfg.OpenVPN.SSHKnownHosts = filepath.Join(home, ".ssh", "known_hosts")
		}
	default:
		return nil, fmt.Errorf("unknown OPENVPN_TRANSPORT %q", cfg.OpenVPN.Transport)
	}

	return cfg, nil
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.APIHost, c.APIPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
