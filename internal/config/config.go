package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/audio-feature-streamer/internal/audio"
	"github.com/skypro1111/audio-feature-streamer/internal/faults"
)

// Config represents the complete streamer configuration
type Config struct {
	AudioFilePath string         `yaml:"audio_file_path" json:"audio_file_path"`
	Channels      int            `yaml:"channels" json:"channels"`
	SampleRate    int            `yaml:"samplerate" json:"samplerate"`
	AudioTime     float64        `yaml:"audio_time" json:"audio_time"`     // seconds
	FeatureTime   float64        `yaml:"feature_time" json:"feature_time"` // seconds
	Extension     string         `yaml:"extension" json:"extension,omitempty"`
	MIME          string         `yaml:"mime" json:"mime,omitempty"`
	DeviceID      string         `yaml:"device_id" json:"device_id"`
	Meta          map[string]any `yaml:"meta" json:"meta,omitempty"`
	Features      []string       `yaml:"features" json:"features"`
	QueueSize     int            `yaml:"queue_size" json:"queue_size"`

	AWSFile string     `yaml:"aws_file" json:"aws_file,omitempty"`
	AWS     *AWSConfig `yaml:"aws" json:"aws,omitempty"`

	NTP        NTPConfig        `yaml:"ntp" json:"ntp"`
	Capture    CaptureConfig    `yaml:"capture" json:"capture"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse" json:"clickhouse"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`

	awsErr error
}

// AWSConfig contains the remote telemetry endpoint credentials
type AWSConfig struct {
	ClientID       string  `yaml:"client_id" json:"client_id"`
	Endpoint       string  `yaml:"endpoint" json:"endpoint"`
	RootCA         string  `yaml:"root_ca" json:"root_ca"`
	PrivateKey     string  `yaml:"private_key" json:"private_key"`
	Certificate    string  `yaml:"certificate" json:"certificate"`
	Topic          string  `yaml:"topic" json:"topic"`
	Port           int     `yaml:"port" json:"port"`
	PublishTimeout float64 `yaml:"publish_timeout" json:"publish_timeout"` // seconds
	ConnectTimeout float64 `yaml:"connect_timeout" json:"connect_timeout"` // seconds
}

// NTPConfig contains the time reference settings
type NTPConfig struct {
	Server  string  `yaml:"server" json:"server"`
	Timeout float64 `yaml:"timeout" json:"timeout"` // seconds
}

// CaptureConfig selects the PCM producer
type CaptureConfig struct {
	Command     string   `yaml:"command" json:"command"` // "-" reads stdin
	Args        []string `yaml:"args" json:"args"`
	BatchFrames int      `yaml:"batch_frames" json:"batch_frames"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// ClickHouseConfig contains the optional segment mirror settings
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password,omitempty"`
	Table    string `yaml:"table" json:"table"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	return nil
}

// Load reads and parses the configuration file, merges the optional AWS
// credentials file, applies environment overrides and defaults, then validates.
// Problems with the AWS block do not fail Load; see RemoteEndpoint.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.New(faults.KindConfiguration, "load", fmt.Errorf("failed to read config file %s: %w", path, err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, faults.New(faults.KindConfiguration, "load", fmt.Errorf("failed to parse config file %s: %w", path, err))
	}

	if config.AWSFile != "" {
		awsPath := config.AWSFile
		if !filepath.IsAbs(awsPath) {
			awsPath = filepath.Join(filepath.Dir(path), awsPath)
		}
		aws, err := loadAWSFile(awsPath)
		if err != nil {
			config.awsErr = err
		} else {
			config.AWS = aws
		}
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, faults.New(faults.KindConfiguration, "validate", fmt.Errorf("config validation failed: %w", err))
	}

	return &config, nil
}

func loadAWSFile(path string) (*AWSConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read aws file %s: %w", path, err)
	}

	var aws AWSConfig
	if err := yaml.Unmarshal(data, &aws); err != nil {
		return nil, fmt.Errorf("failed to parse aws file %s: %w", path, err)
	}

	return &aws, nil
}

func (c *Config) applyEnv() {
	setString(&c.DeviceID, "STREAMER_DEVICE_ID")
	setString(&c.AudioFilePath, "STREAMER_AUDIO_FILE_PATH")
	setString(&c.NTP.Server, "NTP_SERVER")
	setString(&c.ClickHouse.Addr, "CLICKHOUSE_ADDR")
	setString(&c.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	setString(&c.Logging.Level, "LOG_LEVEL")

	for _, key := range []string{"AWS_IOT_ENDPOINT", "AWS_IOT_CLIENT_ID", "AWS_IOT_TOPIC"} {
		if os.Getenv(key) != "" && c.AWS == nil {
			c.AWS = &AWSConfig{}
			break
		}
	}
	if c.AWS != nil {
		setString(&c.AWS.Endpoint, "AWS_IOT_ENDPOINT")
		setString(&c.AWS.ClientID, "AWS_IOT_CLIENT_ID")
		setString(&c.AWS.Topic, "AWS_IOT_TOPIC")
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = "na"
	}
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	if len(c.Features) == 0 {
		c.Features = []string{"std"}
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}

	if c.AWS != nil {
		if c.AWS.Topic == "" {
			c.AWS.Topic = "data"
		}
		if c.AWS.Port == 0 {
			c.AWS.Port = 8883
		}
		if c.AWS.PublishTimeout == 0 {
			c.AWS.PublishTimeout = 5
		}
		if c.AWS.ConnectTimeout == 0 {
			c.AWS.ConnectTimeout = 10
		}
	}

	if c.NTP.Server == "" {
		c.NTP.Server = "pool.ntp.org"
	}
	if c.NTP.Timeout == 0 {
		c.NTP.Timeout = 5
	}

	if c.Capture.BatchFrames == 0 && c.SampleRate > 0 {
		c.Capture.BatchFrames = c.SampleRate / 10
	}

	if c.HTTP.Enabled {
		if c.HTTP.Address == "" {
			c.HTTP.Address = "0.0.0.0"
		}
		if c.HTTP.Port == 0 {
			c.HTTP.Port = 8080
		}
	}

	if c.ClickHouse.Enabled {
		if c.ClickHouse.Database == "" {
			c.ClickHouse.Database = "default"
		}
		if c.ClickHouse.Username == "" {
			c.ClickHouse.Username = "default"
		}
		if c.ClickHouse.Table == "" {
			c.ClickHouse.Table = "feature_points"
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate performs validation of the fields the stream cannot run without.
// The AWS block is checked separately by RemoteEndpoint.
func (c *Config) Validate() error {
	if c.AudioFilePath == "" {
		return fmt.Errorf("audio_file_path cannot be empty")
	}

	if c.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", c.Channels)
	}

	if c.SampleRate < 1 {
		return fmt.Errorf("samplerate must be positive, got %d", c.SampleRate)
	}

	// segment ids have one second resolution
	if c.AudioTime < 1 {
		return fmt.Errorf("audio_time must be at least 1 second, got %f", c.AudioTime)
	}

	if c.FeatureTime <= 0 {
		return fmt.Errorf("feature_time must be positive, got %f", c.FeatureTime)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}

	if err := c.NTP.Validate(); err != nil {
		return fmt.Errorf("ntp config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("clickhouse config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// RemoteEndpoint returns the AWS block when it is complete. A config without an
// AWS block yields (nil, nil): fallback-only mode. An incomplete or unreadable
// block yields a configuration fault and no endpoint.
func (c *Config) RemoteEndpoint() (*AWSConfig, error) {
	if c.awsErr != nil {
		return nil, faults.New(faults.KindConfiguration, "aws", c.awsErr)
	}

	if c.AWS == nil {
		return nil, nil
	}

	if err := c.AWS.Validate(); err != nil {
		return nil, faults.New(faults.KindConfiguration, "aws", err)
	}

	return c.AWS, nil
}

// AudioFormat resolves the container extension and MIME type. An unknown
// extension or MIME type falls back to wav and is reported as a configuration fault.
func (c *Config) AudioFormat() (string, string, error) {
	wavMIME, _ := audio.MIMEForExtension(audio.ExtWAV)

	switch {
	case c.Extension != "":
		ext := strings.ToLower(c.Extension)
		if mime, ok := audio.MIMEForExtension(ext); ok {
			return ext, mime, nil
		}
		return audio.ExtWAV, wavMIME, faults.Errorf(faults.KindConfiguration, "extension",
			"%s is not a valid extension, using %s", c.Extension, audio.ExtWAV)

	case c.MIME != "":
		if ext, ok := audio.ExtensionForMIME(c.MIME); ok {
			mime, _ := audio.MIMEForExtension(ext)
			return ext, mime, nil
		}
		return audio.ExtWAV, wavMIME, faults.Errorf(faults.KindConfiguration, "mime",
			"%s is not a recognized MIME type, using %s", c.MIME, audio.ExtWAV)

	default:
		return audio.ExtWAV, wavMIME, nil
	}
}

// Sanitized returns a copy safe to expose over HTTP: no key paths, no passwords
func (c *Config) Sanitized() Config {
	out := *c
	out.awsErr = nil

	if c.AWS != nil {
		aws := *c.AWS
		aws.RootCA = redact(aws.RootCA)
		aws.PrivateKey = redact(aws.PrivateKey)
		aws.Certificate = redact(aws.Certificate)
		out.AWS = &aws
	}

	out.ClickHouse.Password = ""
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// Validate lists every missing required AWS key
func (a *AWSConfig) Validate() error {
	var missing []string

	required := []struct {
		key   string
		value string
	}{
		{"client_id", a.ClientID},
		{"endpoint", a.Endpoint},
		{"root_ca", a.RootCA},
		{"private_key", a.PrivateKey},
		{"certificate", a.Certificate},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required AWS IoT keys: %s", strings.Join(missing, ", "))
	}

	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("aws port must be between 1 and 65535, got %d", a.Port)
	}

	return nil
}

// Validate validates time reference configuration
func (n *NTPConfig) Validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %f", n.Timeout)
	}
	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.BatchFrames < 1 {
		return fmt.Errorf("batch_frames must be at least 1, got %d", c.BatchFrames)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates ClickHouse configuration
func (c *ClickHouseConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("addr cannot be empty when clickhouse is enabled")
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

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("rotation limits cannot be negative")
	}

	return nil
}

// GetAudioTimeDuration returns the flush cadence and buffer length as a time.Duration
func (c *Config) GetAudioTimeDuration() time.Duration {
	return secondsToDuration(c.AudioTime)
}

// GetFeatureTimeDuration returns the feature cadence and window as a time.Duration
func (c *Config) GetFeatureTimeDuration() time.Duration {
	return secondsToDuration(c.FeatureTime)
}

// GetTimeoutDuration returns the NTP query timeout as a time.Duration
func (n *NTPConfig) GetTimeoutDuration() time.Duration {
	return secondsToDuration(n.Timeout)
}

// GetPublishTimeoutDuration returns the publish timeout as a time.Duration
func (a *AWSConfig) GetPublishTimeoutDuration() time.Duration {
	return secondsToDuration(a.PublishTimeout)
}

// GetConnectTimeoutDuration returns the connect timeout as a time.Duration
func (a *AWSConfig) GetConnectTimeoutDuration() time.Duration {
	return secondsToDuration(a.ConnectTimeout)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
