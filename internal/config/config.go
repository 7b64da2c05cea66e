package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agent configuration
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Location   LocationConfig   `yaml:"location"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AudioConfig contains capture and windowing parameters
type AudioConfig struct {
	SampleRate        int `yaml:"sample_rate"`
	Channels          int `yaml:"channels"`
	BitDepth          int `yaml:"bit_depth"`
	WindowDurationMs  int `yaml:"window_duration_ms"`
	OverlapDurationMs int `yaml:"overlap_duration_ms"`
	FrameSize         int `yaml:"frame_size"` // samples per device read
}

// VADConfig contains the energy gate configuration
type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// DeliveryConfig contains the transcription upload configuration
type DeliveryConfig struct {
	Endpoint       string `yaml:"endpoint"`
	EnrollEndpoint string `yaml:"enroll_endpoint"`
	APIKey         string `yaml:"api_key"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxRetries     int    `yaml:"max_retries"`
	MaxAgeSeconds  int    `yaml:"max_age_seconds"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	MaxQueueSize   int    `yaml:"max_queue_size"` // 0 = unbounded
}

// EnrollmentConfig contains voiceprint enrollment recording bounds
type EnrollmentConfig struct {
	MinDurationSeconds int `yaml:"min_duration_seconds"`
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
}

// LocationConfig contains the optional fixed location tag
type LocationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// StatusConfig contains the local status HTTP server configuration
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery config: %w", err)
	}

	if err := c.Enrollment.Validate(); err != nil {
		return fmt.Errorf("enrollment config: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.WindowDurationMs <= 0 {
		return fmt.Errorf("window_duration_ms must be positive, got %d", a.WindowDurationMs)
	}

	if a.OverlapDurationMs < 0 || a.OverlapDurationMs >= a.WindowDurationMs {
		return fmt.Errorf("overlap_duration_ms must be between 0 and window_duration_ms (exclusive), got %d",
			a.OverlapDurationMs)
	}

	if a.FrameSize < 1 {
		return fmt.Errorf("frame_size must be at least 1 sample, got %d", a.FrameSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.EnergyThreshold <= 0 || v.EnergyThreshold >= 32767 {
		return fmt.Errorf("energy_threshold must be between 0 and 32767 (exclusive), got %f", v.EnergyThreshold)
	}

	return nil
}

// Validate validates delivery configuration
func (d *DeliveryConfig) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if d.EnrollEndpoint == "" {
		return fmt.Errorf("enroll_endpoint cannot be empty")
	}

	if d.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", d.MaxRetries)
	}

	if d.MaxAgeSeconds < 1 {
		return fmt.Errorf("max_age_seconds must be at least 1, got %d", d.MaxAgeSeconds)
	}

	if d.PollIntervalMs < 1 {
		return fmt.Errorf("poll_interval_ms must be at least 1, got %d", d.PollIntervalMs)
	}

	if d.MaxQueueSize < 0 {
		return fmt.Errorf("max_queue_size cannot be negative, got %d", d.MaxQueueSize)
	}

	return nil
}

// Validate validates enrollment configuration
func (e *EnrollmentConfig) Validate() error {
	if e.MinDurationSeconds < 1 {
		return fmt.Errorf("min_duration_seconds must be at least 1, got %d", e.MinDurationSeconds)
	}

	if e.MaxDurationSeconds <= e.MinDurationSeconds {
		return fmt.Errorf("max_duration_seconds (%d) must be greater than min_duration_seconds (%d)",
			e.MaxDurationSeconds, e.MinDurationSeconds)
	}

	return nil
}

// Validate validates status server configuration
func (s *StatusConfig) Validate() error {
	if s.Enabled {
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("status port must be between 1 and 65535, got %d", s.Port)
		}

		if s.Address == "" {
			return fmt.Errorf("status address cannot be empty when the status server is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWindowDuration returns the capture window length as a time.Duration
func (a *AudioConfig) GetWindowDuration() time.Duration {
	return time.Duration(a.WindowDurationMs) * time.Millisecond
}

// GetOverlapDuration returns the window overlap as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapDurationMs) * time.Millisecond
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (d *DeliveryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetMaxAgeDuration returns the queue item expiry as a time.Duration
func (d *DeliveryConfig) GetMaxAgeDuration() time.Duration {
	return time.Duration(d.MaxAgeSeconds) * time.Second
}

// GetPollIntervalDuration returns the queue poll interval as a time.Duration
func (d *DeliveryConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// GetMinDuration returns the minimum enrollment length as a time.Duration
func (e *EnrollmentConfig) GetMinDuration() time.Duration {
	return time.Duration(e.MinDurationSeconds) * time.Second
}

// GetMaxDuration returns the maximum enrollment length as a time.Duration
func (e *EnrollmentConfig) GetMaxDuration() time.Duration {
	return time.Duration(e.MaxDurationSeconds) * time.Second
}
