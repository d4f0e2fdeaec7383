package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/meigma/mpq"
	"github.com/meigma/mpq/stream"
	"github.com/meigma/mpq/stream/cache"
	"github.com/meigma/mpq/stream/encrypted"
	mpqhttp "github.com/meigma/mpq/stream/http"
)

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// options converts the config into archive options.
func (c *cli) options() ([]mpq.Option, error) {
	opts := []mpq.Option{mpq.WithLogger(c.logger)}
	if c.cfg.VerifySectors != nil {
		opts = append(opts, mpq.WithVerifySectors(*c.cfg.VerifySectors))
	}
	if locale, _ := c.cfg.locale(); locale != 0 {
		opts = append(opts, mpq.WithLocale(locale))
	}
	if c.cfg.NameEncoding != "" {
		enc, err := mpq.NameEncoding(c.cfg.NameEncoding)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mpq.WithNameEncoding(enc))
	}
	if c.cfg.MaxFileSize > 0 {
		opts = append(opts, mpq.WithMaxFileSize(c.cfg.MaxFileSize))
	}
	for _, path := range c.cfg.Listfiles {
		data, err := os.ReadFile(path) //nolint:gosec // user-chosen listfile
		if err != nil {
			return nil, fmt.Errorf("read listfile: %w", err)
		}
		opts = append(opts, mpq.WithListfile(data))
	}
	return opts, nil
}

// open opens the archive at location, a path or an http(s) URL.
func (c *cli) open(location string, writable bool) (*mpq.Archive, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	var s stream.Stream
	if writable {
		s, err = c.openWritable(location)
	} else {
		s, err = c.openReadable(location)
		opts = append(opts, mpq.WithReadOnly(true))
	}
	if err != nil {
		return nil, err
	}
	a, err := mpq.OpenStream(s, opts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	c.logger.Debug("archive opened", "location", location, "source", a.SourceID(), "read_only", a.ReadOnly())
	return a, nil
}

// create creates a new archive at path.
func (c *cli) create(path string, opts ...mpq.Option) (*mpq.Archive, error) {
	if isRemote(path) {
		return nil, fmt.Errorf("create %s: %w", path, mpq.ErrReadOnly)
	}
	base, err := c.options()
	if err != nil {
		return nil, err
	}
	f, err := stream.CreateFile(path)
	if err != nil {
		return nil, err
	}
	w, err := c.encryptWritable(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	a, err := mpq.CreateStream(w, append(base, opts...)...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return a, nil
}

func (c *cli) openWritable(location string) (stream.Writable, error) {
	if isRemote(location) {
		return nil, fmt.Errorf("%s: remote archives are read-only: %w", location, mpq.ErrReadOnly)
	}
	f, err := stream.OpenFileRW(location)
	if err != nil {
		return nil, err
	}
	w, err := c.encryptWritable(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (c *cli) openReadable(location string) (stream.Stream, error) {
	var (
		s   stream.Stream
		err error
	)
	if isRemote(location) {
		s, err = c.openRemote(location)
	} else {
		s, err = stream.OpenMapped(location)
	}
	if err != nil {
		return nil, err
	}
	if c.cfg.Encryption.Passphrase == "" {
		return s, nil
	}
	nonce, _ := c.cfg.nonce()
	return encrypted.New(s, encrypted.KeyFromPassphrase(c.cfg.Encryption.Passphrase), nonce), nil
}

func (c *cli) encryptWritable(w stream.Writable) (stream.Writable, error) {
	if c.cfg.Encryption.Passphrase == "" {
		return w, nil
	}
	nonce, err := c.cfg.nonce()
	if err != nil {
		return nil, err
	}
	return encrypted.NewWritable(w, encrypted.KeyFromPassphrase(c.cfg.Encryption.Passphrase), nonce), nil
}

// openRemote opens an HTTP source, behind the block cache when one is
// configured.
func (c *cli) openRemote(url string) (stream.Stream, error) {
	hopts := []mpqhttp.Option{mpqhttp.WithRetries(c.cfg.retries())}
	for k, v := range c.cfg.HTTP.Headers {
		hopts = append(hopts, mpqhttp.WithHeader(k, v))
	}
	if c.cfg.HTTP.Conditional {
		hopts = append(hopts, mpqhttp.WithConditionalHeaders())
	}
	src, err := mpqhttp.NewSource(url, hopts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	dir := c.cfg.cacheDir()
	if dir == "" {
		return src, nil
	}

	comp, err := cache.ParseCompression(c.cfg.Cache.Compression)
	if err != nil {
		return nil, errors.Join(err, src.Close())
	}
	bc, err := cache.New(dir,
		cache.WithCompression(comp),
		cache.WithMaxBytes(c.cfg.Cache.MaxBytes),
		cache.WithLogger(c.logger),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open cache: %w", err), src.Close())
	}
	var wopts []cache.WrapOption
	if c.cfg.Cache.BlockSize > 0 {
		wopts = append(wopts, cache.WithBlockSize(c.cfg.Cache.BlockSize))
	}
	cached, err := bc.Wrap(src, wopts...)
	if err != nil {
		return nil, errors.Join(err, src.Close())
	}
	return cached, nil
}
