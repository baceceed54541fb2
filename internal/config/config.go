// Package config loads the microapp tool configuration from the tool config
// file, MICROAPP_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kabili207/microapp-go/core/checksum"
	"github.com/kabili207/microapp-go/core/header"
	"github.com/kabili207/microapp-go/device/microapp"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file base name; any extension viper reads is
	// accepted (json, yaml, toml).
	FileName = "tool_config"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MICROAPP"
)

// Transport names.
const (
	TransportSerial    = "serial"
	TransportMQTT      = "mqtt"
	TransportSimulator = "sim"
)

// Config holds the tool configuration.
type Config struct {
	Transport string `mapstructure:"transport"`
	Address   string `mapstructure:"address"`

	Serial struct {
		Port string `mapstructure:"port"`
		Baud int    `mapstructure:"baud"`
	} `mapstructure:"serial"`

	MQTT struct {
		Broker      string `mapstructure:"broker"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		UseTLS      bool   `mapstructure:"use_tls"`
		ClientID    string `mapstructure:"client_id"`
		TopicPrefix string `mapstructure:"topic_prefix"`
		BridgeID    string `mapstructure:"bridge_id"`
	} `mapstructure:"mqtt"`

	Upload struct {
		MaxChunkSize   int           `mapstructure:"max_chunk_size"`
		AppIndex       int           `mapstructure:"app_index"`
		Timeout        time.Duration `mapstructure:"timeout"`
		Retries        int           `mapstructure:"retries"`
		ChecksumPolicy string        `mapstructure:"checksum_policy"`
	} `mapstructure:"upload"`

	Header struct {
		Variant  string `mapstructure:"variant"`
		Checksum string `mapstructure:"checksum"`
	} `mapstructure:"header"`

	Signing struct {
		PrivateKeyFile string `mapstructure:"private_key_file"`
		PublicKey      string `mapstructure:"public_key"`
	} `mapstructure:"signing"`

	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log"`

	// File is the config file that was read, or empty.
	File string `mapstructure:"-"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportSerial)
	v.SetDefault("address", "")

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.use_tls", false)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic_prefix", "microapp")
	v.SetDefault("mqtt.bridge_id", "")

	v.SetDefault("upload.max_chunk_size", microapp.DefaultMaxChunkSize)
	v.SetDefault("upload.app_index", 0)
	v.SetDefault("upload.timeout", 5*time.Second)
	v.SetDefault("upload.retries", 3)
	v.SetDefault("upload.checksum_policy", microapp.PolicyAbort.String())

	v.SetDefault("header.variant", header.V2.Name)
	// No checksum default: Codec picks the algorithm only for variants
	// that permit exactly one.
	v.SetDefault("header.checksum", "")

	v.SetDefault("signing.private_key_file", "")
	v.SetDefault("signing.public_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Load reads the configuration into a Config. If cfgFile is empty the tool
// config is searched for in the working directory and ./config; a missing
// file is not an error. Flags should already be bound to v.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be checked by type alone.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportSerial, TransportMQTT, TransportSimulator:
	default:
		errs = append(errs, fmt.Errorf("transport %q: want serial, mqtt or sim", c.Transport))
	}
	if c.Upload.AppIndex < 0 || c.Upload.AppIndex > 255 {
		errs = append(errs, fmt.Errorf("upload.app_index %d out of range 0-255", c.Upload.AppIndex))
	}
	if c.Upload.MaxChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("upload.max_chunk_size must be positive, got %d", c.Upload.MaxChunkSize))
	}
	if c.Upload.Retries < 0 {
		errs = append(errs, fmt.Errorf("upload.retries must not be negative, got %d", c.Upload.Retries))
	}
	if _, err := c.ChecksumPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Codec(); err != nil {
		errs = append(errs, err)
	}
	// ~ is never expanded.
	if strings.Contains(c.Signing.PrivateKeyFile, "~") {
		errs = append(errs, errors.New("signing.private_key_file must not contain ~"))
	}

	return errors.Join(errs...)
}

// Codec returns the header codec selected by header.variant and
// header.checksum. An empty header.checksum is only accepted for variants
// that permit a single algorithm.
func (c *Config) Codec() (*header.Codec, error) {
	v, err := header.VariantByName(c.Header.Variant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Header.Checksum) == "" {
		if len(v.Algorithms) != 1 {
			return nil, fmt.Errorf("header.checksum is required for %s", v.Name)
		}
		return header.NewCodec(v, v.Algorithms[0])
	}
	alg, err := checksum.ParseAlgorithm(c.Header.Checksum)
	if err != nil {
		return nil, err
	}
	return header.NewCodec(v, alg)
}

// ChecksumPolicy parses upload.checksum_policy.
func (c *Config) ChecksumPolicy() (microapp.ChecksumPolicy, error) {
	switch strings.ToLower(c.Upload.ChecksumPolicy) {
	case "abort":
		return microapp.PolicyAbort, nil
	case "warn":
		return microapp.PolicyWarn, nil
	default:
		return 0, fmt.Errorf("upload.checksum_policy %q: want abort or warn", c.Upload.ChecksumPolicy)
	}
}
