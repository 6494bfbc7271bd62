package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configPath := writeFile(t, "envmon.yaml", `
device:
  id: "lab-01"
  location: "Server room"

i2c:
  bus: "1"
  temperature_offset: 65

serial:
  particulate_port: "/dev/ttyAMA2"
  modem_port: "/dev/ttyS0"

gpio:
  chip: "gpiochip0"
  button: 17
  led: 27
  buzzer: 22

display:
  type: "log"

loop:
  sample_interval: 20s
  sync_interval: 2m
  rotate_interval: 4s
  auto_start: true

wifi:
  enabled: true
  ssid: "lab-net"
  password: "hunter22"

cloud:
  host: "embedapi.example.com"
  wall_clock: false

storage:
  enabled: true
  db_path: "/var/lib/envmon/history.db"
  cleanup_schedule: "0 3 * * *"

logging:
  level: "debug"
  format: "console"
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Device.ID != "lab-01" {
		t.Errorf("Device.ID = %v, want lab-01", cfg.Device.ID)
	}
	if cfg.I2C.TemperatureOffset != 65 {
		t.Errorf("I2C.TemperatureOffset = %v, want 65", cfg.I2C.TemperatureOffset)
	}
	if cfg.I2C.ClimateAddr != 0x76 || cfg.I2C.AirQualityAddr != 0x53 || cfg.I2C.LCDAddr != 0x27 {
		t.Errorf("I2C addresses = %+v, want defaults", cfg.I2C)
	}
	if cfg.Serial.ParticulatePort != "/dev/ttyAMA2" || cfg.Serial.ParticulateBaud != 9600 {
		t.Errorf("Serial = %+v", cfg.Serial)
	}
	if cfg.GPIO.Button != 17 || cfg.GPIO.Debounce != 300*time.Millisecond {
		t.Errorf("GPIO = %+v", cfg.GPIO)
	}
	if cfg.Loop.SampleInterval != 20*time.Second || cfg.Loop.SyncInterval != 2*time.Minute {
		t.Errorf("Loop = %+v", cfg.Loop)
	}
	if !cfg.Loop.AutoStart {
		t.Error("Loop.AutoStart should be true")
	}
	if cfg.Cloud.UseWallClock() {
		t.Error("wall_clock: false should select the placeholders")
	}
	if cfg.Cloud.Port != 80 {
		t.Errorf("Cloud.Port = %v, want 80", cfg.Cloud.Port)
	}
	if cfg.Storage.CleanupSchedule != "0 3 * * *" {
		t.Errorf("Storage.CleanupSchedule = %v", cfg.Storage.CleanupSchedule)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := LoadConfig(writeFile(t, "bad.yaml", "loop: [")); err == nil {
		t.Error("malformed YAML should fail")
	}
	if _, err := LoadConfig(writeFile(t, "invalid.yaml", "wifi:\n  enabled: true\n")); err == nil {
		t.Error("wifi without SSID should fail validation")
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Device.ID != "envmon" {
		t.Errorf("Default Device.ID = %v, want envmon", cfg.Device.ID)
	}
	if cfg.I2C.TemperatureOffset != 70 {
		t.Errorf("Default TemperatureOffset = %v, want 70", cfg.I2C.TemperatureOffset)
	}
	if cfg.Loop.SampleInterval != 30*time.Second {
		t.Errorf("Default SampleInterval = %v, want 30s", cfg.Loop.SampleInterval)
	}
	if cfg.Loop.SyncInterval != 60*time.Second {
		t.Errorf("Default SyncInterval = %v, want 60s", cfg.Loop.SyncInterval)
	}
	if cfg.Loop.RotateInterval != 5*time.Second {
		t.Errorf("Default RotateInterval = %v, want 5s", cfg.Loop.RotateInterval)
	}
	if cfg.Loop.Tick != 100*time.Millisecond {
		t.Errorf("Default Tick = %v, want 100ms", cfg.Loop.Tick)
	}
	if cfg.Serial.ModemBaud != 115200 {
		t.Errorf("Default ModemBaud = %v, want 115200", cfg.Serial.ModemBaud)
	}
	if !cfg.Cloud.UseWallClock() {
		t.Error("wall clock should default to on")
	}
	if cfg.MQTT.Topic != "envmon/envmon/records" {
		t.Errorf("Default MQTT.Topic = %v", cfg.MQTT.Topic)
	}
	if cfg.Uplink.BufferSize != 1000 {
		t.Errorf("Default Uplink.BufferSize = %v, want 1000", cfg.Uplink.BufferSize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Default Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("DEVICE_ID", "env-device")
	t.Setenv("WIFI_SSID", "env-net")
	t.Setenv("WIFI_PASSWORD", "env-pass")
	t.Setenv("CLOUD_HOST", "env.example.com")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("INFLUX_TOKEN", "influx-token")
	t.Setenv("UPLINK_TOKEN", "uplink-token")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := &Config{
		Device:  DeviceConfig{ID: "config-device"},
		WiFi:    WiFiConfig{SSID: "config-net"},
		Logging: LoggingConfig{Level: "info"},
	}
	cfg.OverrideFromEnv()

	checks := []struct {
		name, got, want string
	}{
		{"Device.ID", cfg.Device.ID, "env-device"},
		{"WiFi.SSID", cfg.WiFi.SSID, "env-net"},
		{"WiFi.Password", cfg.WiFi.Password, "env-pass"},
		{"Cloud.Host", cfg.Cloud.Host, "env.example.com"},
		{"MQTT.Broker", cfg.MQTT.Broker, "tcp://broker:1883"},
		{"Influx.Token", cfg.Influx.Token, "influx-token"},
		{"Uplink.AuthToken", cfg.Uplink.AuthToken, "uplink-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "WIFI_SSID=dotenv-net\n")
	t.Setenv("WIFI_SSID", "")
	os.Unsetenv("WIFI_SSID")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() failed: %v", err)
	}
	if got := os.Getenv("WIFI_SSID"); got != "dotenv-net" {
		t.Errorf("WIFI_SSID = %q, want dotenv-net", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func validConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing device ID", func(c *Config) { c.Device.ID = "" }, true},
		{"sample interval too short", func(c *Config) { c.Loop.SampleInterval = 500 * time.Millisecond }, true},
		{"sync shorter than sample", func(c *Config) { c.Loop.SyncInterval = 10 * time.Second }, true},
		{"one calibration sample", func(c *Config) { c.Loop.CalibrationSamples = 1 }, true},
		{"unknown display", func(c *Config) { c.Display.Type = "oled" }, true},
		{"wifi without host", func(c *Config) { c.WiFi = WiFiConfig{Enabled: true, SSID: "net"} }, true},
		{"wifi complete", func(c *Config) {
			c.WiFi = WiFiConfig{Enabled: true, SSID: "net"}
			c.Cloud.Host = "example.com"
		}, false},
		{"uplink bad scheme", func(c *Config) {
			c.Uplink.Enabled = true
			c.Uplink.URL = "http://example.com/stream"
			c.Uplink.AuthToken = "token123"
		}, true},
		{"uplink missing token", func(c *Config) {
			c.Uplink.Enabled = true
			c.Uplink.URL = "wss://example.com/stream"
		}, true},
		{"uplink buffer too small", func(c *Config) {
			c.Uplink.Enabled = true
			c.Uplink.URL = "wss://example.com/stream"
			c.Uplink.AuthToken = "token123"
			c.Uplink.BufferSize = 5
		}, true},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, true},
		{"influx without token", func(c *Config) {
			c.Influx = InfluxConfig{Enabled: true, URL: "http://influx:8086", Org: "lab"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_String_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.WiFi.Password = "wifi-password-123"
	cfg.Uplink.AuthToken = "secret-token-12345"
	cfg.Influx.Token = "influx-token-abcdef"

	str := cfg.String()

	for _, secret := range []string{"wifi-password-123", "secret-token-12345", "influx-token-abcdef"} {
		if strings.Contains(str, secret) {
			t.Errorf("String() leaks %q", secret)
		}
	}
	if !strings.Contains(str, "secr****") {
		t.Error("String() should contain masked token")
	}
}

func TestLoadAppConfig(t *testing.T) {
	firePath := writeFile(t, "fire.yaml", "type: rules\n")
	path := writeFile(t, "predictd.yaml", `
server:
  port: 9090
  host: "0.0.0.0"
  auth_token: "stream-token"
  allowed_origins: ["http://dashboard.local"]
models:
  fire: "`+firePath+`"
`)

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %v", cfg.Addr())
	}
	if cfg.Storage.BufferSize != 100 || cfg.Storage.RetentionDays != 30 {
		t.Errorf("Storage defaults = %+v", cfg.Storage)
	}
	if cfg.Models.Fire != firePath || cfg.Models.Zone != "" {
		t.Errorf("Models = %+v", cfg.Models)
	}
	if strings.Contains(cfg.String(), "stream-token") {
		t.Error("String() should mask the auth token")
	}
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*AppConfig)
		wantError bool
	}{
		{"valid", func(*AppConfig) {}, false},
		{"bad port", func(c *AppConfig) { c.Server.Port = 70000 }, true},
		{"missing token", func(c *AppConfig) { c.Server.AuthToken = "" }, true},
		{"small buffer", func(c *AppConfig) { c.Storage.BufferSize = 5 }, true},
		{"missing model file", func(c *AppConfig) { c.Models.Zone = "does/not/exist.yaml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Server: ServerSettings{AuthToken: "token"}}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantError != (err != nil) {
				t.Errorf("Validate() = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestAppConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	cfg := &AppConfig{}
	if err := cfg.OverrideFromEnv(); err == nil {
		t.Error("bad SERVER_PORT should fail")
	}

	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("UPLINK_TOKEN", "env-token")
	t.Setenv("PREDICTD_ZONE_MODEL", "models/zone.yaml")
	if err := cfg.OverrideFromEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.AuthToken != "env-token" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Models.Zone != "models/zone.yaml" {
		t.Errorf("Models.Zone = %q", cfg.Models.Zone)
	}
}
