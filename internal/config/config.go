package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the envmon gateway
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	I2C     I2CConfig     `yaml:"i2c"`
	Serial  SerialConfig  `yaml:"serial"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	Display DisplayConfig `yaml:"display"`
	Loop    LoopConfig    `yaml:"loop"`
	Predict PredictConfig `yaml:"predict"`
	WiFi    WiFiConfig    `yaml:"wifi"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Storage StorageConfig `yaml:"storage"`
	Uplink  UplinkConfig  `yaml:"uplink"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Influx  InfluxConfig  `yaml:"influx"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig identifies this gateway
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// I2CConfig contains the bus and device addresses
type I2CConfig struct {
	// Bus is the periph bus name; empty selects the first bus
	Bus            string `yaml:"bus"`
	ClimateAddr    uint16 `yaml:"climate_addr"`
	AirQualityAddr uint16 `yaml:"air_quality_addr"`
	LCDAddr        uint16 `yaml:"lcd_addr"`
	// TemperatureOffset is subtracted from every temperature, in tenths of a degree
	TemperatureOffset int32 `yaml:"temperature_offset"`
}

// SerialConfig contains the two UARTs
type SerialConfig struct {
	ParticulatePort string `yaml:"particulate_port"`
	ParticulateBaud int    `yaml:"particulate_baud"`
	ModemPort       string `yaml:"modem_port"`
	ModemBaud       int    `yaml:"modem_baud"`
}

// GPIOConfig contains the line offsets on the GPIO chip
type GPIOConfig struct {
	Chip     string        `yaml:"chip"`
	Button   int           `yaml:"button"`
	LED      int           `yaml:"led"`
	Buzzer   int           `yaml:"buzzer"`
	Debounce time.Duration `yaml:"debounce"`
}

// DisplayConfig selects the frame renderer
type DisplayConfig struct {
	// Type is "lcd" or "log"
	Type string `yaml:"type"`
}

// LoopConfig contains the control loop cadences
type LoopConfig struct {
	Tick                time.Duration `yaml:"tick"`
	SampleInterval      time.Duration `yaml:"sample_interval"`
	SyncInterval        time.Duration `yaml:"sync_interval"`
	RotateInterval      time.Duration `yaml:"rotate_interval"`
	CalibrationSamples  int           `yaml:"calibration_samples"`
	CalibrationInterval time.Duration `yaml:"calibration_interval"`
	AutoStart           bool          `yaml:"auto_start"`
}

// PredictConfig points at optional model files; empty paths use the built-in rules
type PredictConfig struct {
	FireModel string `yaml:"fire_model"`
	ZoneModel string `yaml:"zone_model"`
}

// WiFiConfig contains the network the modem joins
type WiFiConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// CloudConfig contains the prediction service the modem posts to
type CloudConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	PostGap   time.Duration `yaml:"post_gap"`
	WallClock *bool         `yaml:"wall_clock"`
	Reconnect bool          `yaml:"reconnect"`
}

// UseWallClock reports whether payload time fields come from the clock
func (c CloudConfig) UseWallClock() bool {
	return c.WallClock == nil || *c.WallClock
}

// StorageConfig contains the local record history settings
type StorageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DBPath          string        `yaml:"db_path"`
	RetentionDays   int           `yaml:"retention_days"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// UplinkConfig contains the websocket stream to the prediction service
type UplinkConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// MQTTConfig contains the telemetry broker settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxConfig contains the time series database settings
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// APIConfig contains the local HTTP API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
	// FilePath appends to a file instead of stdout; rotation is left to logrotate
	FilePath string `yaml:"file_path"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// Missing files are not an error
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Device.ID == "" {
		c.Device.ID = "envmon"
	}
	if c.I2C.ClimateAddr == 0 {
		c.I2C.ClimateAddr = 0x76
	}
	if c.I2C.AirQualityAddr == 0 {
		c.I2C.AirQualityAddr = 0x53
	}
	if c.I2C.LCDAddr == 0 {
		c.I2C.LCDAddr = 0x27
	}
	if c.I2C.TemperatureOffset == 0 {
		c.I2C.TemperatureOffset = 70
	}
	if c.Serial.ParticulatePort == "" {
		c.Serial.ParticulatePort = "/dev/ttyAMA1"
	}
	if c.Serial.ParticulateBaud == 0 {
		c.Serial.ParticulateBaud = 9600
	}
	if c.Serial.ModemPort == "" {
		c.Serial.ModemPort = "/dev/ttyUSB0"
	}
	if c.Serial.ModemBaud == 0 {
		c.Serial.ModemBaud = 115200
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	if c.GPIO.Debounce == 0 {
		c.GPIO.Debounce = 300 * time.Millisecond
	}
	if c.Display.Type == "" {
		c.Display.Type = "lcd"
	}
	if c.Loop.Tick == 0 {
		c.Loop.Tick = 100 * time.Millisecond
	}
	if c.Loop.SampleInterval == 0 {
		c.Loop.SampleInterval = 30 * time.Second
	}
	if c.Loop.SyncInterval == 0 {
		c.Loop.SyncInterval = 60 * time.Second
	}
	if c.Loop.RotateInterval == 0 {
		c.Loop.RotateInterval = 5 * time.Second
	}
	if c.Loop.CalibrationSamples == 0 {
		c.Loop.CalibrationSamples = 4
	}
	if c.Loop.CalibrationInterval == 0 {
		c.Loop.CalibrationInterval = 4 * time.Second
	}
	if c.Cloud.Port == 0 {
		c.Cloud.Port = 80
	}
	if c.Cloud.PostGap == 0 {
		c.Cloud.PostGap = 3 * time.Second
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "./data/envmon.db"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 20
	}
	if c.Storage.FlushInterval == 0 {
		c.Storage.FlushInterval = 10 * time.Second
	}
	if c.Storage.CleanupSchedule == "" {
		c.Storage.CleanupSchedule = "@daily"
	}
	if c.Uplink.ConnectTimeout == 0 {
		c.Uplink.ConnectTimeout = 10 * time.Second
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = 1 * time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.PongTimeout == 0 {
		c.Uplink.PongTimeout = 10 * time.Second
	}
	if c.Uplink.BufferSize == 0 {
		c.Uplink.BufferSize = 1000
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "envmon/" + c.Device.ID + "/records"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "envmon-" + c.Device.ID
	}
	if c.Influx.Bucket == "" {
		c.Influx.Bucket = "envmon"
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	// Only override if environment variable is set (non-empty)
	if v := os.Getenv("DEVICE_ID"); v != "" {
		c.Device.ID = v
	}
	if v := os.Getenv("WIFI_SSID"); v != "" {
		c.WiFi.SSID = v
	}
	if v := os.Getenv("WIFI_PASSWORD"); v != "" {
		c.WiFi.Password = v
	}
	if v := os.Getenv("CLOUD_HOST"); v != "" {
		c.Cloud.Host = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("UPLINK_TOKEN"); v != "" {
		c.Uplink.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device ID is required")
	}
	if c.Loop.Tick <= 0 || c.Loop.Tick > time.Second {
		return fmt.Errorf("loop tick must be positive and at most 1 second")
	}
	if c.Loop.SampleInterval < 1*time.Second {
		return fmt.Errorf("sample interval must be at least 1 second")
	}
	if c.Loop.SyncInterval < c.Loop.SampleInterval {
		return fmt.Errorf("sync interval must not be shorter than the sample interval")
	}
	if c.Loop.RotateInterval < c.Loop.Tick {
		return fmt.Errorf("rotate interval must be at least one tick")
	}
	if c.Loop.CalibrationSamples < 2 {
		return fmt.Errorf("calibration needs at least 2 samples (the first is discarded)")
	}
	if c.Display.Type != "lcd" && c.Display.Type != "log" {
		return fmt.Errorf("display type must be lcd or log, got %q", c.Display.Type)
	}
	if c.WiFi.Enabled {
		if c.WiFi.SSID == "" {
			return fmt.Errorf("wifi SSID is required when wifi is enabled")
		}
		if c.Cloud.Host == "" {
			return fmt.Errorf("cloud host is required when wifi is enabled")
		}
	}
	if c.Uplink.Enabled {
		if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
			return fmt.Errorf("uplink URL must start with ws:// or wss://")
		}
		if c.Uplink.AuthToken == "" {
			return fmt.Errorf("uplink auth token is required")
		}
		if c.Uplink.BufferSize < 10 || c.Uplink.BufferSize > 100000 {
			return fmt.Errorf("uplink buffer size must be between 10 and 100000")
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Token == "" || c.Influx.Org == "") {
		return fmt.Errorf("influx url, token and org are required when influx is enabled")
	}
	if c.Storage.Enabled && c.Storage.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	return nil
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %+v, Loop: %+v, WiFi: [SSID=%s, Password=%s], Cloud: [Host=%s:%d], "+
		"Uplink: [URL=%s, Token=%s], MQTT: [Broker=%s, Password=%s], Influx: [URL=%s, Token=%s], Storage: %+v, Logging: %+v}",
		c.Device,
		c.Loop,
		c.WiFi.SSID,
		maskToken(c.WiFi.Password),
		c.Cloud.Host,
		c.Cloud.Port,
		c.Uplink.URL,
		maskToken(c.Uplink.AuthToken),
		c.MQTT.Broker,
		maskToken(c.MQTT.Password),
		c.Influx.URL,
		maskToken(c.Influx.Token),
		c.Storage,
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
