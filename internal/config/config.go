package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Roles.
const (
	RoleCentral    = "central"
	RolePeripheral = "peripheral"
	RoleHub        = "hub"
)

// Config holds all application configuration.
type Config struct {
	Role      string       `yaml:"role" env:"SCOREBOARD_ROLE"`
	LogLevel  string       `yaml:"log_level" env:"SCOREBOARD_LOG_LEVEL"`
	LogFormat string       `yaml:"log_format" env:"SCOREBOARD_LOG_FORMAT"` // "text" or "json"
	Adapter   string       `yaml:"adapter" env:"SCOREBOARD_ADAPTER"`       // HCI adapter id on Linux, e.g. "hci0"
	BLE       BLEConfig    `yaml:"ble"`
	Device    DeviceConfig `yaml:"device"`
	Hub       HubConfig    `yaml:"hub"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
}

// BLEConfig holds the GATT identifiers shared by devices and hub.
type BLEConfig struct {
	ServiceUUID string `yaml:"service_uuid" env:"SCOREBOARD_SERVICE_UUID"`
	RXCharUUID  string `yaml:"rx_char_uuid" env:"SCORE_CHAR_UUID"`
	TXCharUUID  string `yaml:"tx_char_uuid" env:"GAME_NAME_CHAR_UUID"`
}

// DeviceConfig holds settings for the central and peripheral device roles.
type DeviceConfig struct {
	Name             string        `yaml:"name" env:"SCOREBOARD_DEVICE_NAME"`
	GameName         string        `yaml:"game_name" env:"SCOREBOARD_GAME_NAME"`
	InitialScore     int           `yaml:"initial_score"`
	UpdateInterval   time.Duration `yaml:"update_interval" env:"SCOREBOARD_UPDATE_INTERVAL"`
	ScanTimeout      time.Duration `yaml:"scan_timeout"`
	RescanDelay      time.Duration `yaml:"rescan_delay"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReadvertiseDelay time.Duration `yaml:"readvertise_delay"`
	// StepMin and StepMax bound the random score tick. Each bound left at
	// zero takes the role's default.
	StepMin int `yaml:"step_min"`
	StepMax int `yaml:"step_max"`
}

// HubConfig holds settings for the Raspberry Pi hub.
type HubConfig struct {
	ScanInterval        time.Duration `yaml:"scan_interval" env:"SCAN_INTERVAL"`
	ScanTimeout         time.Duration `yaml:"scan_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	MaxDevices          int           `yaml:"max_devices"`
	StrictServiceFilter bool          `yaml:"strict_service_filter" env:"STRICT_SERVICE_UUID_FILTERING"`
	NamePatterns        []string      `yaml:"name_patterns" env:"ALLOWED_DEVICE_NAME_PATTERNS"`
	Advertise           bool          `yaml:"advertise" env:"ENABLE_ADVERTISING"`
	GATTServer          bool          `yaml:"gatt_server" env:"ENABLE_GATT_SERVER"`
	AdvertisingName     string        `yaml:"advertising_name" env:"ADVERTISING_NAME"`
	Listen              string        `yaml:"listen" env:"SCOREBOARD_LISTEN"`
	StaticDir           string        `yaml:"static_dir" env:"SCOREBOARD_STATIC_DIR"`
	TestEndpoints       bool          `yaml:"test_endpoints" env:"ENABLE_TEST_ENDPOINTS"`
}

// MQTTConfig holds the optional broker bridge settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker      string `yaml:"broker" env:"MQTT_BROKER"` // e.g. "tcp://localhost:1883"
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "scoreboard")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Role:      RoleHub,
		LogLevel:  "info",
		LogFormat: "text",
		BLE: BLEConfig{
			ServiceUUID: "c9b9a344-a062-4e55-a507-441c7e610e2c",
			RXCharUUID:  "29f80071-9a06-426b-8c26-02ae5df749a4",
			TXCharUUID:  "a43359d2-e50e-43c9-ad86-b77ee5c6524e",
		},
		Device: DeviceConfig{
			Name:             "ESP32-Game-Device",
			GameName:         "ESP32 Test Game",
			UpdateInterval:   5 * time.Second,
			ScanTimeout:      5 * time.Second,
			RescanDelay:      2 * time.Second,
			ConnectTimeout:   15 * time.Second,
			ReadvertiseDelay: 500 * time.Millisecond,
		},
		Hub: HubConfig{
			ScanInterval:        8 * time.Second,
			ScanTimeout:         10 * time.Second,
			ConnectTimeout:      15 * time.Second,
			MaxDevices:          54,
			StrictServiceFilter: true,
			NamePatterns:        []string{"ESP32", "Scoreboard"},
			AdvertisingName:     "S3-Scoreboard",
			Listen:              ":8000",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "scoreboard-hub",
			TopicPrefix: "scoreboard",
		},
	}
}

// Load reads and parses a YAML config file, then applies environment
// overrides. Missing fields are filled with defaults. Tilde (~) in
// hub.static_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any environment variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	cfg.Hub.StaticDir = expandTilde(cfg.Hub.StaticDir)
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleCentral, RolePeripheral, RoleHub:
	default:
		return fmt.Errorf("role must be central, peripheral, or hub, got %q", c.Role)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	for name, v := range map[string]string{
		"ble.service_uuid": c.BLE.ServiceUUID,
		"ble.rx_char_uuid": c.BLE.RXCharUUID,
		"ble.tx_char_uuid": c.BLE.TXCharUUID,
	} {
		if _, err := uuid.Parse(v); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q", name, v)
		}
	}

	switch c.Role {
	case RoleCentral, RolePeripheral:
		if c.Device.UpdateInterval <= 0 {
			return fmt.Errorf("device.update_interval must be > 0")
		}
		if c.Device.StepMin < 0 || c.Device.StepMax < 0 {
			return fmt.Errorf("device.step_min and device.step_max must be >= 0")
		}
		if c.Device.StepMax != 0 && c.Device.StepMin > c.Device.StepMax {
			return fmt.Errorf("device.step_min (%d) must not exceed device.step_max (%d)", c.Device.StepMin, c.Device.StepMax)
		}
		if c.Role == RolePeripheral && c.Device.Name == "" {
			return fmt.Errorf("device.name must not be empty in the peripheral role")
		}
	case RoleHub:
		if c.Hub.ScanInterval <= 0 {
			return fmt.Errorf("hub.scan_interval must be > 0")
		}
		if c.Hub.MaxDevices <= 0 {
			return fmt.Errorf("hub.max_devices must be > 0")
		}
		if c.Hub.Listen == "" {
			return fmt.Errorf("hub.listen must not be empty")
		}
		if c.Hub.Advertise && c.Hub.AdvertisingName == "" {
			return fmt.Errorf("hub.advertising_name must not be empty when advertising")
		}
		if c.MQTT.Enabled {
			if c.MQTT.Broker == "" {
				return fmt.Errorf("mqtt.broker must not be empty when mqtt is enabled")
			}
			if c.MQTT.TopicPrefix == "" {
				return fmt.Errorf("mqtt.topic_prefix must not be empty when mqtt is enabled")
			}
		}
	}

	return nil
}

const defaultHeader = `# scoreboard configuration
# role: central | peripheral | hub
# Environment variables override these values (see README).
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
