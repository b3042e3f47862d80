package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// RoomSeed describes a room created when the relay starts.
type RoomSeed struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Default bool   `mapstructure:"default" yaml:"default"`
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	IdentityURL           string        `mapstructure:"identity_url" yaml:"identity_url"`
	IdentityTimeout       time.Duration `mapstructure:"identity_timeout" yaml:"identity_timeout"`
	IdentityTokenSecret   string        `mapstructure:"identity_token_secret" yaml:"identity_token_secret"`
	IdentityTokenIssuer   string        `mapstructure:"identity_token_issuer" yaml:"identity_token_issuer"`
	IdentityTokenAudience string        `mapstructure:"identity_token_audience" yaml:"identity_token_audience"`
	IdentityTokenTTL      time.Duration `mapstructure:"identity_token_ttl" yaml:"identity_token_ttl"`

	// StorePath enables room topology persistence when non-empty.
	StorePath string     `mapstructure:"store_path" yaml:"store_path"`
	Rooms     []RoomSeed `mapstructure:"rooms" yaml:"rooms"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":4545",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 << 10,
		LogLevel:          "info",

		IdentityURL:           "http://localhost:7004",
		IdentityTimeout:       5 * time.Second,
		IdentityTokenIssuer:   "synergy",
		IdentityTokenAudience: "identity",
		IdentityTokenTTL:      time.Minute,

		Rooms: []RoomSeed{{Name: "Global", Default: true}},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.IdentityURL != "" {
		c.IdentityURL = other.IdentityURL
	}
	if other.IdentityTimeout != 0 {
		c.IdentityTimeout = other.IdentityTimeout
	}
	if other.IdentityTokenSecret != "" {
		c.IdentityTokenSecret = other.IdentityTokenSecret
	}
	if other.IdentityTokenIssuer != "" {
		c.IdentityTokenIssuer = other.IdentityTokenIssuer
	}
	if other.IdentityTokenAudience != "" {
		c.IdentityTokenAudience = other.IdentityTokenAudience
	}
	if other.IdentityTokenTTL != 0 {
		c.IdentityTokenTTL = other.IdentityTokenTTL
	}
	if other.StorePath != "" {
		c.StorePath = other.StorePath
	}
	if other.Rooms != nil {
		c.Rooms = other.Rooms
	}
}

// Validate rejects settings the relay cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes))
	}
	if u, err := url.Parse(c.IdentityURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("identity_url %q is not an http(s) URL", c.IdentityURL))
	}
	if c.IdentityTokenSecret != "" && c.IdentityTokenTTL <= 0 {
		errs = append(errs, errors.New("identity_token_ttl must be positive when a token secret is set"))
	}

	seen := make(map[string]bool, len(c.Rooms))
	for i, room := range c.Rooms {
		switch {
		case room.Name == "":
			errs = append(errs, fmt.Errorf("rooms[%d] has no name", i))
		case seen[room.Name]:
			errs = append(errs, fmt.Errorf("room %q is listed twice", room.Name))
		}
		seen[room.Name] = true
	}
	return errors.Join(errs...)
}
