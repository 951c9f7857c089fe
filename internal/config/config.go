package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"serialportd/internal/drivertype"
	"serialportd/internal/ipc"
	"serialportd/internal/store"
)

// Config holds the daemon configuration.
type Config struct {
	AgentID     string   `json:"agent_id"`
	DriversFile string   `json:"drivers_file"`
	SysfsRoot   string   `json:"sysfs_root"`
	DevDir      string   `json:"dev_dir"`
	SocketPath  string   `json:"socket_path"`
	AllowedUIDs []uint32 `json:"allowed_uids"`
	Verbose     bool     `json:"verbose"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.Validate()
	return cfg
}

// LoadFromFile loads the configuration from a JSON file. A missing file is
// not an error; defaults are returned instead so the daemon runs unconfigured.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate fills in defaults for unset fields.
func (c *Config) Validate() error {
	if c.DriversFile == "" {
		c.DriversFile = drivertype.DefaultDriversFile
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = "/sys"
	}
	if c.DevDir == "" {
		c.DevDir = "/dev"
	}
	if c.SocketPath == "" {
		c.SocketPath = ipc.SocketPath()
	}
	if c.AgentID == "" {
		c.GenerateAgentID()
	}
	return nil
}

// GenerateAgentID fills in a stable, anonymous agent ID.
func (c *Config) GenerateAgentID() {
	if c.AgentID != "" {
		return
	}

	id, err := machineid.ProtectedID("serialportd")
	if err != nil {
		log.Printf("Warning: could not derive a stable agent ID, falling back to a random one: %v", err)
		c.AgentID = uuid.New().String()
		return
	}

	// Hash the ID to protect privacy.
	hash := sha256.Sum256([]byte(id))
	c.AgentID = hex.EncodeToString(hash[:])
}

// SaveToFile writes the configuration as indented JSON, readable by the
// owner only.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := store.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
