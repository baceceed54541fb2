package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kabili207/microapp-go/core/checksum"
	"github.com/kabili207/microapp-go/core/header"
	"github.com/kabili207/microapp-go/device/microapp"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport != TransportSerial {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d", cfg.Serial.Baud)
	}
	if cfg.MQTT.TopicPrefix != "microapp" {
		t.Errorf("MQTT.TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Upload.MaxChunkSize != 192 || cfg.Upload.AppIndex != 0 || cfg.Upload.Retries != 3 {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	if cfg.Upload.Timeout != 5*time.Second {
		t.Errorf("Upload.Timeout = %v", cfg.Upload.Timeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" || cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 5 || cfg.Log.MaxAgeDays != 28 {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}

	c, err := cfg.Codec()
	if err != nil {
		t.Fatalf("Codec() error = %v", err)
	}
	if c.Variant() != header.V2 || c.Algorithm() != checksum.AlgorithmCRC16CCITT {
		t.Errorf("Codec() = %v/%v", c.Variant(), c.Algorithm())
	}
	if p, _ := cfg.ChecksumPolicy(); p != microapp.PolicyAbort {
		t.Errorf("ChecksumPolicy() = %v", p)
	}
}

func TestLoadSearchesConfigDir(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.Mkdir("config", 0o755); err != nil {
		t.Fatal(err)
	}
	body := `{
  "transport": "mqtt",
  "mqtt": {"broker": "tcp://localhost:1883", "bridge_id": "desk"},
  "upload": {"timeout": "250ms", "app_index": 1}
}`
	if err := os.WriteFile(filepath.Join("config", "tool_config.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Transport != TransportMQTT || cfg.MQTT.BridgeID != "desk" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Upload.Timeout != 250*time.Millisecond || cfg.Upload.AppIndex != 1 {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
	if !strings.HasSuffix(cfg.File, filepath.Join("config", "tool_config.json")) {
		t.Errorf("File = %q", cfg.File)
	}
}

func TestLoadExplicitYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.yaml")
	body := "header:\n  variant: v3\n  checksum: fletcher32\nserial:\n  port: /dev/ttyACM0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MICROAPP_SERIAL_BAUD", "57600")
	t.Setenv("MICROAPP_UPLOAD_CHECKSUM_POLICY", "warn")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyACM0" || cfg.Serial.Baud != 57600 {
		t.Errorf("Serial = %+v", cfg.Serial)
	}
	c, err := cfg.Codec()
	if err != nil {
		t.Fatalf("Codec() error = %v", err)
	}
	if c.Variant() != header.V3 || c.Algorithm() != checksum.AlgorithmFletcher32 {
		t.Errorf("Codec() = %v/%v", c.Variant(), c.Algorithm())
	}
	if p, _ := cfg.ChecksumPolicy(); p != microapp.PolicyWarn {
		t.Errorf("ChecksumPolicy() = %v", p)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var c Config
		if err := v.Unmarshal(&c); err != nil {
			t.Fatal(err)
		}
		return &c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"transport", func(c *Config) { c.Transport = "ble" }, "transport"},
		{"app index", func(c *Config) { c.Upload.AppIndex = 256 }, "app_index"},
		{"chunk size", func(c *Config) { c.Upload.MaxChunkSize = 0 }, "max_chunk_size"},
		{"retries", func(c *Config) { c.Upload.Retries = -1 }, "retries"},
		{"policy", func(c *Config) { c.Upload.ChecksumPolicy = "ignore" }, "checksum_policy"},
		{"variant", func(c *Config) { c.Header.Variant = "v9" }, "v9"},
		{"unsupported algorithm", func(c *Config) { c.Header.Checksum = "fletcher32" }, "fletcher32"},
		{"v3 without checksum", func(c *Config) { c.Header.Variant = "v3" }, "header.checksum is required for v3"},
		{"tilde", func(c *Config) { c.Signing.PrivateKeyFile = "~/key" }, "~"},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestCodecAlgorithmSelection(t *testing.T) {
	tests := []struct {
		variant  string
		checksum string
		want     checksum.Algorithm
		wantErr  bool
	}{
		{"v1", "", checksum.AlgorithmCRC16CCITT, false},
		{"v2", "", checksum.AlgorithmCRC16CCITT, false},
		{"v3", "", 0, true},
		{"v3", "crc16-ccitt", checksum.AlgorithmCRC16CCITT, false},
		{"v3", "fletcher32", checksum.AlgorithmFletcher32, false},
	}
	for _, tt := range tests {
		t.Run(tt.variant+"/"+tt.checksum, func(t *testing.T) {
			var c Config
			c.Header.Variant = tt.variant
			c.Header.Checksum = tt.checksum
			codec, err := c.Codec()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Codec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && codec.Algorithm() != tt.want {
				t.Errorf("Codec() algorithm = %v, want %v", codec.Algorithm(), tt.want)
			}
		})
	}
}

func TestLoadV3RequiresChecksum(t *testing.T) {
	chdir(t, t.TempDir())

	v := viper.New()
	v.Set("header.variant", "v3")
	_, err := Load(v, "")
	if err == nil || !strings.Contains(err.Error(), "header.checksum is required for v3") {
		t.Fatalf("Load() error = %v, want missing checksum", err)
	}

	v = viper.New()
	v.Set("header.variant", "v3")
	v.Set("header.checksum", "fletcher32")
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	c, err := cfg.Codec()
	if err != nil || c.Algorithm() != checksum.AlgorithmFletcher32 {
		t.Errorf("Codec() = %v, %v", c, err)
	}
}
