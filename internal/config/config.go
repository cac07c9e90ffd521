// Package config loads and validates the datasource configuration.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"ktail/internal/decoder"
	"ktail/internal/tunnel"
	"ktail/source/kafka"
)

// ErrInvalid is returned for documents that cannot be decoded or that miss a
// required field.
var ErrInvalid = errors.New("config: invalid")

type Format string

const (
	FormatLDJSON Format = "ldjson"
	FormatArray  Format = "array"
	FormatCSV    Format = "csv"
	FormatRaw    Format = "raw"
)

var formats = []Format{FormatLDJSON, FormatArray, FormatCSV, FormatRaw}

func (f *Format) UnmarshalText(text []byte) error {
	s := Format(strings.ToLower(strings.TrimSpace(string(text))))
	if s != "" && !slices.Contains(formats, s) {
		return fmt.Errorf("unknown format %q", string(text))
	}
	*f = s
	return nil
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f), nil }

type SASL struct {
	User     string `koanf:"user" yaml:"user"`
	Password string `koanf:"password" yaml:"password,omitempty"`
}

// Config is the datasource configuration. Treat a loaded Config as
// immutable; it is shared by concurrent fetches.
type Config struct {
	BootstrapServers []string       `koanf:"bootstrapServers" yaml:"bootstrapServers"`
	GroupID          string         `koanf:"groupId" yaml:"groupId"`
	Topics           []string       `koanf:"topics" yaml:"topics"`
	Decoder          decoder.Kind   `koanf:"decoder" yaml:"decoder"`
	Format           Format         `koanf:"format" yaml:"format"`
	Tunnel           *tunnel.Config `koanf:"tunnel" yaml:"tunnel,omitempty"`

	Driver           string `koanf:"driver" yaml:"driver,omitempty"`
	Version          string `koanf:"version" yaml:"version,omitempty"`
	ClientID         string `koanf:"clientId" yaml:"clientId,omitempty"`
	TLS              bool   `koanf:"tls" yaml:"tls,omitempty"`
	SASL             *SASL  `koanf:"sasl" yaml:"sasl,omitempty"`
	BlockingPoolSize int    `koanf:"blockingPoolSize" yaml:"blockingPoolSize,omitempty"`
}

func applyDefaults(c *Config) {
	if c.Format == "" {
		c.Format = FormatLDJSON
	}
	if c.Driver == "" {
		c.Driver = kafka.DefaultDriver
	}
	if c.BlockingPoolSize <= 0 {
		c.BlockingPoolSize = 4
	}
}

// Validate reports the first problem found, wrapped in ErrInvalid.
func (c Config) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("%w: bootstrapServers cannot be empty", ErrInvalid)
	}
	for _, b := range c.BootstrapServers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("%w: bootstrapServers cannot contain empty addresses", ErrInvalid)
		}
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("%w: topics cannot be empty", ErrInvalid)
	}
	for _, t := range c.Topics {
		if strings.TrimSpace(t) == "" || strings.Contains(t, "/") {
			return fmt.Errorf("%w: invalid topic name %q", ErrInvalid, t)
		}
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("%w: groupId cannot be empty", ErrInvalid)
	}
	if c.Decoder == "" {
		return fmt.Errorf("%w: decoder cannot be empty", ErrInvalid)
	}
	if _, err := decoder.Select(c.Decoder); err != nil {
		return fmt.Errorf("%w: decoder: %w", ErrInvalid, err)
	}
	if !slices.Contains(formats, c.Format) {
		return fmt.Errorf("%w: unknown format %q", ErrInvalid, c.Format)
	}
	if !slices.Contains(kafka.Drivers(), c.Driver) {
		return fmt.Errorf("%w: unknown driver %q (have %s)", ErrInvalid, c.Driver, strings.Join(kafka.Drivers(), ", "))
	}
	if c.Tunnel != nil {
		if err := c.Tunnel.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// HasTopic reports whether name is on the topic allow-list.
func (c Config) HasTopic(name string) bool {
	return slices.Contains(c.Topics, name)
}

// Settings derives the direct (untunneled) connection settings.
func (c Config) Settings() kafka.Settings {
	s := kafka.Settings{
		Brokers:  slices.Clone(c.BootstrapServers),
		GroupID:  c.GroupID,
		ClientID: c.ClientID,
		Version:  c.Version,
		TLSEn:    c.TLS,
	}
	if c.SASL != nil {
		s.SASLUser, s.SASLPass = c.SASL.User, c.SASL.Password
	}
	if c.Tunnel != nil && c.Tunnel.Timeout > 0 {
		s.DialTimeout = c.Tunnel.Timeout
	}
	return s
}

// Redacted returns a copy with every secret masked.
func (c Config) Redacted() Config {
	if c.SASL != nil {
		s := *c.SASL
		if s.Password != "" {
			s.Password = "******"
		}
		c.SASL = &s
	}
	if c.Tunnel != nil {
		t := c.Tunnel.Redacted()
		c.Tunnel = &t
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

type Outcome int

const (
	Replaced Outcome = iota
	Rejected
)

func (o Outcome) String() string {
	if o == Replaced {
		return "replaced"
	}
	return "rejected"
}

// Reconfigure replaces cur with the document in next. There is no merge: a
// document that decodes and validates replaces cur wholesale, anything else is
// rejected and cur is returned unchanged.
func Reconfigure(cur Config, next []byte) (Config, Outcome, error) {
	cfg, err := Parse(next)
	if err != nil {
		return cur, Rejected, err
	}
	return cfg, Replaced, nil
}
