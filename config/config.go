// Package config loads connection and collection settings from YAML, with
// .env support and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/uon-team/db/core"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment overrides of a connection:
// UONDB_<NAME>_URL, UONDB_<NAME>_DATABASE and UONDB_<NAME>_CONNECT_TIMEOUT.
const EnvPrefix = "UONDB_"

// DefaultConnectTimeout applies when a connection sets none.
const DefaultConnectTimeout = 10 * time.Second

// Collection lists the indexes kept in sync on one collection.
type Collection struct {
	Name    string                 `yaml:"name"`
	Indexes []core.IndexDefinition `yaml:"indexes"`
}

// Connection is a named store connection.
type Connection struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	Collections    []Collection  `yaml:"collections"`
}

// Config is the root configuration document.
type Config struct {
	LogLevel    string       `yaml:"logLevel"`
	Connections []Connection `yaml:"connections"`
}

// Load reads the YAML file at path. A .env file next to it is loaded first
// when present; ${VAR} references are expanded and environment overrides
// applied.
func Load(path string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes a YAML document. lookup resolves environment variables.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		v, _ := lookup(key)
		return v
	})
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for i := range c.Connections {
		conn := &c.Connections[i]
		prefix := EnvPrefix + envName(conn.Name) + "_"
		if v, ok := lookup(prefix + "URL"); ok && v != "" {
			conn.URL = v
		}
		if v, ok := lookup(prefix + "DATABASE"); ok && v != "" {
			conn.Database = v
		}
		if v, ok := lookup(prefix + "CONNECT_TIMEOUT"); ok && v != "" {
			d, err := cast.ToDurationE(v)
			if err != nil {
				return fmt.Errorf("%sCONNECT_TIMEOUT: %w", prefix, err)
			}
			conn.ConnectTimeout = d
		}
		if conn.ConnectTimeout <= 0 {
			conn.ConnectTimeout = DefaultConnectTimeout
		}
	}
	return nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, conn := range c.Connections {
		if conn.Name == "" {
			return errors.New("config: connection without name")
		}
		if seen[conn.Name] {
			return fmt.Errorf("config: duplicate connection %q", conn.Name)
		}
		seen[conn.Name] = true
		if conn.URL == "" {
			return fmt.Errorf("config: connection %q has no url", conn.Name)
		}
	}
	return nil
}

// Connection returns the connection named name.
func (c *Config) Connection(name string) (*Connection, bool) {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], true
		}
	}
	return nil, false
}

// envName upper-cases name and replaces anything but letters and digits
// with underscores.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
