package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the battleship server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	AuthPort    int    `yaml:"auth_port"`
	GamePort    int    `yaml:"game_port"`

	// AdvertiseHost is the TCP host handed to clients in the auth reply.
	AdvertiseHost string `yaml:"advertise_host"`

	// Game rules
	GridSize int         `yaml:"grid_size"`
	Fleet    []FleetShip `yaml:"fleet"`

	// Accounts
	MinPasswordLen int `yaml:"min_password_len"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	LogLevel string `yaml:"log_level"`
}

// FleetShip is one (name, length) entry of the fleet definition.
type FleetShip struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// StorageConfig selects the user-store backend.
// Backend is "file" (JSON document on disk) or "postgres".
type StorageConfig struct {
	Backend  string         `yaml:"backend"`
	FilePath string         `yaml:"file_path"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:    "0.0.0.0",
		AuthPort:       5554,
		GamePort:       5555,
		AdvertiseHost:  "127.0.0.1",
		GridSize:       10,
		Fleet:          []FleetShip{{Name: "Torpilleur", Size: 2}},
		MinPasswordLen: 4,
		Storage: StorageConfig{
			Backend:  "file",
			FilePath: "donnees_utilisateurs.json",
			Database: DatabaseConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "seabattle",
				Password: "seabattle",
				DBName:   "seabattle",
				SSLMode:  "disable",
			},
		},
		LogLevel: "info",
	}
}

// Load loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configs the server cannot start with.
func (c Server) Validate() error {
	if c.GridSize < 1 {
		return fmt.Errorf("grid_size must be positive, got %d", c.GridSize)
	}
	if len(c.Fleet) == 0 {
		return fmt.Errorf("fleet must not be empty")
	}
	for _, s := range c.Fleet {
		if s.Size < 1 || s.Size > c.GridSize {
			return fmt.Errorf("fleet ship %q size %d does not fit a %dx%d grid", s.Name, s.Size, c.GridSize, c.GridSize)
		}
	}
	switch c.Storage.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
