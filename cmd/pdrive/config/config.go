package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TraceLTRC/pdrive-cli/errs"
	"github.com/TraceLTRC/pdrive-cli/planner"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "PDRIVE_CONFIG"
	AppDirName    = "pdrive"

	ProtocolS3     = "s3"
	ProtocolWorker = "worker"
)

// default-config.toml is where the first pdrive release kept its config.
var configNames = []string{"config.json", "config.yaml", "config.yml", "config.toml", "default-config.toml"}

var logLevels = map[string]string{
	"debug": "debug",
	"info":  "info",
	"warn":  "warn",
	"error": "warn",
	"fatal": "fatal",
	"panic": "panic",
}

type RetryConfig struct {
	BaseDelay  string `json:"base_delay" yaml:"base_delay" toml:"base_delay"`
	MaxDelay   string `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

type Config struct {
	Endpoint         string      `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Token            string      `json:"token" yaml:"token" toml:"token"`
	Bucket           string      `json:"bucket" yaml:"bucket" toml:"bucket"`
	Protocol         string      `json:"protocol" yaml:"protocol" toml:"protocol"`
	Region           string      `json:"region" yaml:"region" toml:"region"`
	ChecksumSHA256   bool        `json:"checksum_sha256" yaml:"checksum_sha256" toml:"checksum_sha256"`
	PartSize         string      `json:"part_size" yaml:"part_size" toml:"part_size"`
	MinPartSizeFloor string      `json:"min_part_size_floor" yaml:"min_part_size_floor" toml:"min_part_size_floor"`
	MaxPartCount     int         `json:"max_part_count" yaml:"max_part_count" toml:"max_part_count"`
	Concurrency      int         `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	PartRetries      int         `json:"part_retries" yaml:"part_retries" toml:"part_retries"`
	Retry            RetryConfig `json:"retry" yaml:"retry" toml:"retry"`
	Timeout          string      `json:"timeout" yaml:"timeout" toml:"timeout"`
	SessionDB        string      `json:"session_db" yaml:"session_db" toml:"session_db"`
	LogLevel         string      `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile          string      `json:"log_file" yaml:"log_file" toml:"log_file"`

	// keys of the first release, read only
	APIURL             string `json:"api_url,omitempty" yaml:"api_url,omitempty" toml:"api_url,omitempty"`
	ConcurrentRequests int    `json:"concurrent_requests,omitempty" yaml:"concurrent_requests,omitempty" toml:"concurrent_requests,omitempty"`

	// resolved by Validate
	PartSizeBytes  int64         `json:"-" yaml:"-" toml:"-"`
	FloorBytes     int64         `json:"-" yaml:"-" toml:"-"`
	BaseDelayValue time.Duration `json:"-" yaml:"-" toml:"-"`
	MaxDelayValue  time.Duration `json:"-" yaml:"-" toml:"-"`
	TimeoutValue   time.Duration `json:"-" yaml:"-" toml:"-"`
}

// Default returns a config with the optional fields filled, the protocol is
// resolved by Validate.
func Default() *Config {
	return &Config{
		Region:           "us-east-1",
		PartSize:         "8MiB",
		MinPartSizeFloor: "5MiB",
		MaxPartCount:     planner.DefaultMaxPartCount,
		Concurrency:      4,
		PartRetries:      3,
		Retry: RetryConfig{
			BaseDelay:  "500ms",
			MaxDelay:   "30s",
			MaxRetries: 5,
		},
		Timeout:  "10m",
		LogLevel: "warn",
	}
}

// Dir is the per user directory holding the config file and session db.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errs.Wrap(errs.KindConfig, "config_dir", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// Candidates lists the config files to try in order: the explicit file, the
// env file, then the files in Dir.
func Candidates(explicit string) []string {
	rs := make([]string, 0, len(configNames)+2)
	if len(explicit) > 0 {
		rs = append(rs, explicit)
	}
	if v, ok := os.LookupEnv(EnvConfigFile); ok && len(v) > 0 {
		rs = append(rs, v)
	}
	if dir, err := Dir(); err == nil {
		for _, name := range configNames {
			rs = append(rs, filepath.Join(dir, name))
		}
	}
	return rs
}

// Load parses the first existing candidate. An explicitly given file must exist.
func Load(explicit string) (*Config, string, error) {
	for i, f := range Candidates(explicit) {
		if _, err := os.Stat(f); err != nil {
			if i == 0 && len(explicit) > 0 {
				return nil, "", errs.Wrap(errs.KindConfig, "load_config", err)
			}
			continue
		}
		c, err := Parse(f)
		if err != nil {
			return nil, f, err
		}
		return c, f, nil
	}
	return nil, "", errs.New(errs.KindConfig, "load_config", "no config file found, run `pdrive config init` first")
}

func FormatOf(f string) string {
	switch strings.ToLower(filepath.Ext(f)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	}
	return "json"
}

func Parse(f string) (*Config, error) {
	raw, err := os.ReadFile(f)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "parse_config", fmt.Errorf("read file:%w", err))
	}
	return Decode(raw, FormatOf(f))
}

// Decode parses raw in the given format (json, yaml or toml) on top of the
// defaults and validates the result.
func Decode(raw []byte, format string) (*Config, error) {
	c := Default()
	var err error
	switch format {
	case "yaml":
		err = yaml.Unmarshal(raw, c)
	case "toml":
		err = toml.Unmarshal(raw, c)
	default:
		err = json.Unmarshal(raw, c)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "parse_config", fmt.Errorf("decode %s:%w", format, err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode renders c in the given format.
func Encode(c *Config, format string) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(c)
	case "toml":
		return toml.Marshal(c)
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseSize(name, v string) (int64, error) {
	sz, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, errs.New(errs.KindConfig, "validate_config", "invalid %s:%s", name, v)
	}
	return int64(sz), nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, errs.New(errs.KindConfig, "validate_config", "invalid %s:%s", name, v)
	}
	return d, nil
}

// applyLegacy maps the keys of the first release onto the current ones. A
// config that only has api_url talks to the worker gateway.
func (c *Config) applyLegacy() {
	if len(c.APIURL) > 0 {
		if len(c.Endpoint) == 0 {
			c.Endpoint = c.APIURL
		}
		if len(c.Protocol) == 0 {
			c.Protocol = ProtocolWorker
		}
	}
	if c.ConcurrentRequests > 0 {
		c.Concurrency = c.ConcurrentRequests
	}
	if len(c.Protocol) == 0 {
		c.Protocol = ProtocolS3
	}
}

func (c *Config) Validate() error {
	const op = "validate_config"
	c.applyLegacy()
	if len(c.Endpoint) == 0 {
		return errs.New(errs.KindConfig, op, "no endpoint")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || len(u.Host) == 0 {
		return errs.New(errs.KindConfig, op, "invalid endpoint:%s", c.Endpoint)
	}
	if len(c.Token) == 0 {
		return errs.New(errs.KindConfig, op, "no token")
	}
	if c.Protocol != ProtocolS3 && c.Protocol != ProtocolWorker {
		return errs.New(errs.KindConfig, op, "unknown protocol:%s", c.Protocol)
	}
	// the worker gateway picks its bucket itself
	if len(c.Bucket) == 0 && c.Protocol == ProtocolS3 {
		return errs.New(errs.KindConfig, op, "no bucket")
	}
	lv, ok := logLevels[strings.ToLower(strings.TrimSpace(c.LogLevel))]
	if !ok {
		return errs.New(errs.KindConfig, op, "invalid log_level:%s", c.LogLevel)
	}
	c.LogLevel = lv
	if c.Concurrency <= 0 {
		return errs.New(errs.KindConfig, op, "invalid concurrency:%d", c.Concurrency)
	}
	if c.MaxPartCount <= 0 {
		return errs.New(errs.KindConfig, op, "invalid max_part_count:%d", c.MaxPartCount)
	}
	if c.PartRetries < 0 || c.Retry.MaxRetries < 0 {
		return errs.New(errs.KindConfig, op, "retries should not be negative")
	}
	if c.PartSizeBytes, err = parseSize("part_size", c.PartSize); err != nil {
		return err
	}
	if c.PartSizeBytes <= 0 {
		return errs.New(errs.KindConfig, op, "invalid part_size:%s", c.PartSize)
	}
	if c.FloorBytes, err = parseSize("min_part_size_floor", c.MinPartSizeFloor); err != nil {
		return err
	}
	if c.BaseDelayValue, err = parseDuration("retry.base_delay", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.MaxDelayValue, err = parseDuration("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return err
	}
	if c.TimeoutValue, err = parseDuration("timeout", c.Timeout); err != nil {
		return err
	}
	if len(c.SessionDB) == 0 {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.SessionDB = filepath.Join(dir, "sessions.db")
	}
	return nil
}
