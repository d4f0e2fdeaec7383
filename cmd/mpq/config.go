package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/meigma/mpq"
	"github.com/meigma/mpq/stream/cache"
	mpqhttp "github.com/meigma/mpq/stream/http"
)

// Config holds defaults for every command. Command-line flags override it.
type Config struct {
	// VerifySectors checks stored sector checksums while reading
	// (default: true).
	VerifySectors *bool `yaml:"verify_sectors"`

	// Locale is the preferred locale, in decimal or 0x-prefixed hex.
	Locale string `yaml:"locale"`

	// Listfiles are external name lists applied to every archive.
	Listfiles []string `yaml:"listfiles"`

	// NameEncoding is the code page of names stored in the archives.
	NameEncoding string `yaml:"name_encoding"`

	// MaxFileSize limits files decoded into memory, 0 for the library
	// default.
	MaxFileSize uint64 `yaml:"max_file_size"`

	Cache      CacheConfig      `yaml:"cache"`
	HTTP       HTTPConfig       `yaml:"http"`
	Encryption EncryptionConfig `yaml:"encryption"`

	// CacheDir is shorthand for cache.dir.
	CacheDir string `yaml:"cache_dir"`
}

// CacheConfig configures the block cache for remote archives.
type CacheConfig struct {
	Dir string `yaml:"dir"`

	// Compression of cached blocks: none, lz4 or zstd.
	Compression string `yaml:"compression"`

	// MaxBytes bounds the cache, 0 for no limit.
	MaxBytes int64 `yaml:"max_bytes"`

	// BlockSize is the size of cached blocks, 0 for the default.
	BlockSize int64 `yaml:"block_size"`
}

// HTTPConfig configures range requests for remote archives.
type HTTPConfig struct {
	// Retries after a failed request, nil for the default.
	Retries *int `yaml:"retries"`

	// Headers are sent with every request.
	Headers map[string]string `yaml:"headers"`

	// Conditional sends If-Match or If-Unmodified-Since with range reads.
	Conditional bool `yaml:"conditional"`
}

// EncryptionConfig describes a container encrypted with a passphrase.
type EncryptionConfig struct {
	Passphrase string `yaml:"passphrase"`

	// Nonce is 16 hex characters, zero when empty.
	Nonce string `yaml:"nonce"`
}

// LoadConfig reads the YAML file at path. An empty path yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-chosen config path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields that are parsed on use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.locale(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.nonce(); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Retries != nil && *c.HTTP.Retries < 0 {
		errs = append(errs, fmt.Errorf("http.retries must be >= 0, got %d", *c.HTTP.Retries))
	}
	if _, err := cache.ParseCompression(c.Cache.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_bytes must be >= 0, got %d", c.Cache.MaxBytes))
	}
	if c.NameEncoding != "" {
		if _, err := mpq.NameEncoding(c.NameEncoding); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) locale() (uint16, error) {
	if c.Locale == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(c.Locale, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("locale %q: %w", c.Locale, err)
	}
	return uint16(v), nil
}

func (c *Config) nonce() ([8]byte, error) {
	var n [8]byte
	if c.Encryption.Nonce == "" {
		return n, nil
	}
	b, err := hex.DecodeString(c.Encryption.Nonce)
	if err != nil || len(b) != len(n) {
		return n, fmt.Errorf("encryption.nonce must be %d hex bytes", len(n))
	}
	copy(n[:], b)
	return n, nil
}

func (c *Config) cacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return c.CacheDir
}

func (c *Config) retries() int {
	if c.HTTP.Retries == nil {
		return mpqhttp.DefaultRetries
	}
	return *c.HTTP.Retries
}

// overrides are the persistent flags that replace config values when set.
type overrides struct {
	locale       string
	listfiles    []string
	nameEncoding string
	noVerify     bool
	cacheDir     string
	passphrase   string
}

func (o *overrides) apply(cmd *cobra.Command, cfg *Config) {
	changed := cmd.Flags().Changed
	if changed("locale") {
		cfg.Locale = o.locale
	}
	if changed("listfile") {
		cfg.Listfiles = append(cfg.Listfiles, o.listfiles...)
	}
	if changed("name-encoding") {
		cfg.NameEncoding = o.nameEncoding
	}
	if changed("no-verify") {
		verify := !o.noVerify
		cfg.VerifySectors = &verify
	}
	if changed("cache-dir") {
		cfg.Cache.Dir = o.cacheDir
	}
	if changed("passphrase") {
		cfg.Encryption.Passphrase = o.passphrase
	}
}
