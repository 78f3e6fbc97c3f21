// Package config manages the hybridscan application configuration.
// It handles loading, validating, and providing access to configuration
// settings from YAML files. It includes defaults for all settings and
// implements thread-safe access to configuration values.
package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port            int      `yaml:"port"`
		Host            string   `yaml:"host"`
		AllowedOrigins  []string `yaml:"allowedOrigins"`
		ReadTimeout     int      `yaml:"readTimeout"`
		WriteTimeout    int      `yaml:"writeTimeout"`
		ShutdownTimeout int      `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Scanner struct {
		NmapPath         string `yaml:"nmapPath"`
		SherlockPath     string `yaml:"sherlockPath"`
		AmassPath        string `yaml:"amassPath"`
		StatsInterval    string `yaml:"statsInterval"`    // nmap --stats-every value
		ScanTimeout      string `yaml:"scanTimeout"`      // empty or "0" means no timeout
		KillOnDisconnect bool   `yaml:"killOnDisconnect"` // terminate the tool when the client goes away
		MaxOutputBytes   int    `yaml:"maxOutputBytes"`   // cap on accumulated tool output, 0 = unlimited
	} `yaml:"scanner"`

	Database struct {
		Path              string `yaml:"path"`
		DataRetentionDays int    `yaml:"dataRetentionDays"`
		MaxConnections    int    `yaml:"maxConnections"`
		JournalMode       string `yaml:"journalMode"`
		SynchronousMode   string `yaml:"synchronousMode"`
	} `yaml:"database"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		OutputPath string `yaml:"outputPath"`
	} `yaml:"logging"`

	path string
	mu   sync.RWMutex
}

var (
	instance *Config
	once     sync.Once
)

// GetConfig returns the singleton configuration instance
func GetConfig() *Config {
	once.Do(func() {
		instance = &Config{}
		setDefaults(instance)
	})
	return instance
}

// New returns a standalone configuration populated with defaults. It is
// intended for tests and embedding; the daemon uses GetConfig.
func New() *Config {
	c := &Config{}
	setDefaults(c)
	return c
}

// LoadConfig loads configuration from a YAML file
func (c *Config) LoadConfig(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Save path for potential reloading
	c.path = path

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file does not exist: %s", path)
	}

	// Read file
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Unmarshal YAML
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}

	// Create directories if they don't exist
	dirs := []string{
		filepath.Dir(c.Database.Path),
		filepath.Dir(c.Logging.OutputPath),
	}

	for _, dir := range dirs {
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	// Validate configuration
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().Str("path", path).Msg("Configuration loaded successfully")
	return nil
}

// Reload reloads the configuration from the file
func (c *Config) Reload() error {
	if c.path == "" {
		return errors.New("configuration was not loaded from a file")
	}
	return c.LoadConfig(c.path)
}

// SaveConfig saves the current configuration to a file
func (c *Config) SaveConfig(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Scanner validation
	if c.Scanner.NmapPath == "" {
		return errors.New("nmap path is required")
	}

	if c.Scanner.ScanTimeout != "" && c.Scanner.ScanTimeout != "0" {
		if _, err := time.ParseDuration(c.Scanner.ScanTimeout); err != nil {
			return fmt.Errorf("invalid scan timeout: %s", c.Scanner.ScanTimeout)
		}
	}

	if c.Scanner.MaxOutputBytes < 0 {
		return fmt.Errorf("invalid max output bytes: %d", c.Scanner.MaxOutputBytes)
	}

	// Database validation
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	return nil
}

// GetScanTimeout returns the scan timeout as a parsed duration.
// A zero duration means scans run until the tool exits.
func (c *Config) GetScanTimeout() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Scanner.ScanTimeout == "" || c.Scanner.ScanTimeout == "0" {
		return 0, nil
	}
	return time.ParseDuration(c.Scanner.ScanTimeout)
}

// setDefaults initializes the configuration with default values
func setDefaults(c *Config) {
	// Server defaults
	c.Server.Port = 5000
	c.Server.Host = "127.0.0.1"
	c.Server.AllowedOrigins = []string{"*"}
	c.Server.ReadTimeout = 30
	// The event stream endpoints hold the response open for the whole
	// scan, so the server write timeout must stay disabled.
	c.Server.WriteTimeout = 0
	c.Server.ShutdownTimeout = 10

	// Scanner defaults
	c.Scanner.NmapPath = "nmap"
	c.Scanner.SherlockPath = "sherlock"
	c.Scanner.AmassPath = "amass"
	c.Scanner.StatsInterval = "5s"
	c.Scanner.ScanTimeout = "0"
	c.Scanner.KillOnDisconnect = false
	c.Scanner.MaxOutputBytes = 0

	// Database defaults
	c.Database.Path = "./data/hybridscan.db"
	c.Database.DataRetentionDays = 365
	c.Database.MaxConnections = 10
	c.Database.JournalMode = "WAL"
	c.Database.SynchronousMode = "NORMAL"

	// Logging defaults
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.OutputPath = "./data/logs/hybridscan.log"
}
