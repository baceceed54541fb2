package microapp

import (
	"log/slog"

	"github.com/kabili207/microapp-go/core/header"
)

const (
	// DefaultMaxChunkSize is the largest chunk the host sends, whatever the
	// device allows.
	DefaultMaxChunkSize = 192
)

// ChecksumPolicy decides what a local header checksum mismatch does.
type ChecksumPolicy int

const (
	// PolicyAbort refuses to upload an image whose checksums do not match.
	PolicyAbort ChecksumPolicy = iota
	// PolicyWarn logs the mismatch and uploads anyway.
	PolicyWarn
)

func (p ChecksumPolicy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicyWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// Progress reports how far a plan has got.
type Progress struct {
	// Step is the name of the running step.
	Step string
	// Current and Total count steps, or uploaded bytes when Bytes is set.
	Current int
	Total   int
	Bytes   bool
}

// Percentage returns Current/Total as a percentage.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) * 100 / float64(p.Total)
}

// ProgressCallback receives Progress updates.
type ProgressCallback func(Progress)

// Config holds the uploader configuration.
type Config struct {
	Logger         *slog.Logger
	MaxChunkSize   int
	AppIndex       uint8
	Codec          *header.Codec
	ChecksumPolicy ChecksumPolicy
	Progress       ProgressCallback
}

func defaultConfig() Config {
	return Config{
		MaxChunkSize:   DefaultMaxChunkSize,
		ChecksumPolicy: PolicyAbort,
	}
}

// Option is a functional option for configuring the Uploader.
type Option func(*Config)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMaxChunkSize caps the chunk size. The effective size is the smaller of
// this and the device maximum. Non-positive values are ignored.
func WithMaxChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.MaxChunkSize = size
		}
	}
}

// WithAppIndex selects the slot to operate on. Defaults to 0.
func WithAppIndex(index uint8) Option {
	return func(c *Config) {
		c.AppIndex = index
	}
}

// WithCodec enables the local header check before upload.
//
// Example:
//
//	c, _ := header.NewCodec(header.V2, checksum.AlgorithmCRC16CCITT)
//	up := microapp.NewUploader(dev, microapp.WithCodec(c))
func WithCodec(c *header.Codec) Option {
	return func(cfg *Config) {
		cfg.Codec = c
	}
}

// WithChecksumPolicy sets what a local checksum mismatch does.
func WithChecksumPolicy(p ChecksumPolicy) Option {
	return func(c *Config) {
		c.ChecksumPolicy = p
	}
}

// WithProgressCallback sets a callback for step and upload progress.
func WithProgressCallback(fn ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}
