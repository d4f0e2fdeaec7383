// Package cache provides a disk-backed block cache that wraps any stream.
//
// Blocks are fetched from the source on first access, stored compressed in
// individual files and recorded in a presence bitmap that is persisted next
// to them, so a partially downloaded archive survives process restarts.
package cache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700

	blocksDir    = "blocks"
	manifestsDir = "manifests"
)

// blockDomainKey separates block keys from manifest keys.
var (
	blockDomainKey = [32]byte{
		'm', 'p', 'q', '.', 'c', 'a', 'c', 'h', 'e', '.', 'b', 'l', 'o', 'c', 'k',
	}
	manifestDomainKey = [32]byte{
		'm', 'p', 'q', '.', 'c', 'a', 'c', 'h', 'e', '.', 'm', 'a', 'n', 'i', 'f', 'e', 's', 't',
	}
)

// Cache stores fixed-size blocks of wrapped streams on disk. It is safe for
// concurrent use.
type Cache struct {
	dir            string             // root directory
	shardPrefixLen int                // hex chars for subdirectory sharding
	dirPerm        os.FileMode        // permissions for created directories
	maxBytes       int64              // maximum block bytes (0 = unlimited)
	compression    Compression        // block payload compression
	logger         *slog.Logger       // debug records for hits and misses
	bytes          atomic.Int64       // current total size of block files
	fetchGroup     singleflight.Group // deduplicates concurrent fetches for same block
	pruneMu        sync.Mutex         // serializes prune operations
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes sets the maximum size in bytes of cached blocks.
// Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithCompression sets how block payloads are stored. Defaults to LZ4.
func WithCompression(comp Compression) Option {
	return func(c *Cache) {
		c.compression = comp
	}
}

// WithLogger sets the logger for cache hit and miss records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a block cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("block cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		compression:    CompressionLZ4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("block cache shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("block cache max bytes must be >= 0")
	}
	if err := os.MkdirAll(filepath.Join(dir, blocksDir), c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(filepath.Join(dir, blocksDir))
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current size of cached blocks in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest blocks until the cache is at or below
// targetBytes. Streams notice pruned blocks on their next read and fetch
// them again.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(filepath.Join(c.dir, blocksDir), targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

func keyedHex(key [32]byte, sourceID string, nums ...int64) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("cache: blake3 keyed hasher: " + err.Error())
	}
	_, _ = h.Write([]byte(sourceID))
	var buf [8]byte
	for _, n := range nums {
		binary.BigEndian.PutUint64(buf[:], uint64(n)) //nolint:gosec // sizes and indexes are non-negative
		_, _ = h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) blockPath(key string) string {
	dir := filepath.Join(c.dir, blocksDir)
	if c.shardPrefixLen <= 0 {
		return filepath.Join(dir, key)
	}
	prefix := min(c.shardPrefixLen, len(key))
	return filepath.Join(dir, key[:prefix], key)
}

func (c *Cache) manifestPath(sourceID string, blockSize int64) string {
	return filepath.Join(c.dir, manifestsDir, keyedHex(manifestDomainKey, sourceID, blockSize)+".cbor")
}

// readBlock loads a cached block. It reports false when the block is
// missing or unreadable.
func (c *Cache) readBlock(key string, size int) ([]byte, bool) {
	path := c.blockPath(key)
	stored, err := os.ReadFile(path) //nolint:gosec // path is derived from a hash
	if err != nil {
		return nil, false
	}
	data, err := decodeBlock(stored, size)
	if err != nil {
		c.logger.Debug("dropping unreadable cached block", "path", path, "error", err)
		c.bytes.Add(-int64(len(stored)))
		_ = os.Remove(path)
		return nil, false
	}
	return data, true
}

// writeBlock stores a block. Failures leave the cache unchanged.
func (c *Cache) writeBlock(key string, data []byte) error {
	path := c.blockPath(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	stored := encodeBlock(data, c.compression)
	if ok, err := c.ensureCapacity(int64(len(stored))); err != nil {
		return err
	} else if !ok {
		return errors.New("block exceeds cache capacity")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(stored); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	c.bytes.Add(int64(len(stored)))
	return nil
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
