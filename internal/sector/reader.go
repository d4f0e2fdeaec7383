// Package sector reconstructs entry content from its stored sectors.
//
// Each sector is decrypted, checked against its stored checksum and
// decompressed independently, so any byte range can be decoded by reading
// only the sectors that cover it.
package sector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/mpq/internal/codec"
	"github.com/meigma/mpq/internal/crypt"
	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
)

// Config controls how entries are decoded.
type Config struct {
	// SectorSize is the archive sector size in bytes.
	SectorSize uint32
	// Verify enables sector checksum verification.
	Verify bool
	Logger *slog.Logger
}

// Reader decodes one entry. It is not safe for concurrent use.
type Reader struct {
	r     io.ReaderAt
	entry filetable.Entry
	cfg   Config

	// start is the stream offset of the first sector, after any patch info.
	start    uint64
	rawSize  uint32
	dataSize uint32
	patch    *PatchInfo

	key      uint32
	keyKnown bool

	offsets    []uint32
	crcs       []uint32
	crcsLoaded bool

	single []byte

	cachedIndex int
	cached      []byte
}

// Open prepares a reader for e, whose data starts at stream offset base.
func Open(r io.ReaderAt, base uint64, e *filetable.Entry, cfg Config) (*Reader, error) {
	if cfg.SectorSize == 0 {
		return nil, fmt.Errorf("zero sector size: %w", mpqtype.ErrFormat)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Reader{
		r:           r,
		entry:       *e,
		cfg:         cfg,
		start:       base,
		rawSize:     e.CSize,
		dataSize:    e.FSize,
		cachedIndex: -1,
	}
	if e.Flags&format.FlagImplode != 0 && e.Flags&format.FlagCompress != 0 {
		return nil, fmt.Errorf("entry flags %#x: %w", e.Flags, mpqtype.ErrNotSupported)
	}

	if e.Has(format.FlagPatchFile) {
		pi, err := readPatchInfo(r, base, e.CSize)
		if err != nil {
			return nil, err
		}
		s.patch = pi
		s.start += uint64(pi.Length)
		s.rawSize -= pi.Length
		s.dataSize = pi.DataSize
	}

	if e.Has(format.FlagEncrypted) && e.Name != "" {
		s.key = crypt.FileKey(e.Name, e.FilePos, e.FSize, e.Has(format.FlagFixKey))
		s.keyKnown = true
	}
	return s, nil
}

// Size returns the decoded size.
func (s *Reader) Size() int64 { return int64(s.dataSize) }

// PatchInfo returns the patch info block of a patch-flagged entry, or nil.
func (s *Reader) PatchInfo() *PatchInfo { return s.patch }

// Key returns the sector key in use, once known.
func (s *Reader) Key() (uint32, bool) { return s.key, s.keyKnown }

func (s *Reader) compressed() bool { return s.entry.Flags&format.FlagCompressMask != 0 }
func (s *Reader) encrypted() bool  { return s.entry.Has(format.FlagEncrypted) }

func (s *Reader) sectorCount() uint32 {
	return (s.dataSize + s.cfg.SectorSize - 1) / s.cfg.SectorSize
}

// singleUnit reports whether the entry is stored as one block.
func (s *Reader) singleUnit() bool {
	return s.entry.Has(format.FlagSingleUnit)
}

func (s *Reader) readRaw(pos uint64, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := s.r.ReadAt(buf, int64(s.start+pos)); err != nil { //nolint:gosec // archive offsets
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sector data past end of stream: %w", mpqtype.ErrCorrupt)
		}
		return nil, fmt.Errorf("read sectors: %w", err)
	}
	return buf, nil
}

// loadOffsets reads and validates the sector offset table.
func (s *Reader) loadOffsets() error {
	if s.offsets != nil || s.singleUnit() || !s.compressed() {
		return nil
	}
	n := s.sectorCount()
	entries := n + 1
	withCRC := s.entry.Has(format.FlagSectorCRC)
	if withCRC {
		entries++
	}
	tableLen := entries * 4
	if tableLen > s.rawSize {
		return fmt.Errorf("sector table of %d bytes exceeds entry size %d: %w", tableLen, s.rawSize, mpqtype.ErrCorrupt)
	}
	raw, err := s.readRaw(0, tableLen)
	if err != nil {
		return err
	}

	if s.encrypted() {
		if !s.keyKnown {
			key, ok := crypt.DetectSectorTableKey(raw, s.cfg.SectorSize, tableLen)
			if !ok {
				return fmt.Errorf("sector table: %w", mpqtype.ErrKey)
			}
			s.key, s.keyKnown = key+1, true
			s.cfg.Logger.Debug("detected sector key from offset table", "key", s.key)
		}
		crypt.Decrypt(raw, s.key-1)
	}

	offs := make([]uint32, entries)
	for i := range offs {
		offs[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	// Some writers set the checksum flag without storing the extra entry.
	if withCRC && offs[0] == tableLen-4 {
		offs = offs[:n+1]
		withCRC = false
	}
	if err := validateOffsets(offs, n, uint32(len(offs))*4, s.rawSize); err != nil {
		return err
	}
	s.offsets = offs
	if !withCRC {
		s.crcsLoaded = true
	}
	return nil
}

// validateOffsets checks that the n data sectors are strictly increasing
// and lie inside the entry. A trailing checksum entry may equal the last
// data offset when no checksums were written.
func validateOffsets(offs []uint32, n, tableLen, rawSize uint32) error {
	if offs[0] != tableLen {
		return fmt.Errorf("first sector offset %d, want %d: %w", offs[0], tableLen, mpqtype.ErrCorrupt)
	}
	for i := uint32(1); i <= n; i++ {
		if offs[i] <= offs[i-1] {
			return fmt.Errorf("sector %d offset %d not above %d: %w", i, offs[i], offs[i-1], mpqtype.ErrCorrupt)
		}
	}
	if offs[n] > rawSize {
		return fmt.Errorf("sector data ends at %d beyond entry size %d: %w", offs[n], rawSize, mpqtype.ErrCorrupt)
	}
	if len(offs) > int(n)+1 {
		crcEnd := offs[n+1]
		if crcEnd < offs[n] || crcEnd > rawSize {
			return fmt.Errorf("checksum block end %d: %w", crcEnd, mpqtype.ErrCorrupt)
		}
	}
	return nil
}

// loadChecksums reads the per-sector checksum block. Failures disable
// checksum verification for the entry rather than failing reads.
func (s *Reader) loadChecksums() {
	if s.crcsLoaded {
		return
	}
	s.crcsLoaded = true
	n := s.sectorCount()
	from, to := s.offsets[n], s.offsets[n+1]
	if to == from {
		return
	}
	raw, err := s.readRaw(uint64(from), to-from)
	if err != nil {
		s.cfg.Logger.Debug("sector checksums unreadable", "name", s.entry.Name, "error", err)
		return
	}
	want := int(n) * 4
	if len(raw) < want {
		raw, err = codec.Decompress(raw, want)
		if err != nil || len(raw) != want {
			s.cfg.Logger.Debug("sector checksums undecodable", "name", s.entry.Name, "error", err)
			return
		}
	}
	crcs := make([]uint32, n)
	for i := range crcs {
		crcs[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	s.crcs = crcs
}

// ensureKey detects the key of an entry without a usable sector table from
// the content of its first sector.
func (s *Reader) ensureKey(first []byte) error {
	if !s.encrypted() || s.keyKnown {
		return nil
	}
	key, ok := crypt.DetectContentKey(first, s.entry.FSize)
	if !ok {
		return fmt.Errorf("no known content signature: %w", mpqtype.ErrKey)
	}
	s.key, s.keyKnown = key, true
	s.cfg.Logger.Debug("detected sector key from content", "key", key)
	return nil
}

// decode turns one stored sector into plain bytes of length want.
func (s *Reader) decode(index uint32, raw []byte, want uint32) ([]byte, error) {
	if s.encrypted() {
		crypt.Decrypt(raw, s.key+index)
	}
	if s.cfg.Verify && s.crcs != nil && index < uint32(len(s.crcs)) && checked(s.crcs[index]) { //nolint:gosec // bounded by sector count
		if got := checksum(raw); got != s.crcs[index] {
			return nil, fmt.Errorf("sector %d checksum %#08x, want %#08x: %w", index, got, s.crcs[index], mpqtype.ErrCorrupt)
		}
	}
	out := raw
	if uint32(len(raw)) < want && s.compressed() { //nolint:gosec // sector sized
		var err error
		if s.entry.Has(format.FlagImplode) {
			out, err = codec.Explode(raw, int(want))
		} else {
			out, err = codec.Decompress(raw, int(want))
		}
		if err != nil {
			return nil, fmt.Errorf("sector %d: %w", index, err)
		}
	}
	if uint32(len(out)) != want { //nolint:gosec // sector sized
		return nil, fmt.Errorf("sector %d decoded to %d bytes, want %d: %w", index, len(out), want, mpqtype.ErrCorrupt)
	}
	return out, nil
}

func (s *Reader) loadSingle() error {
	if s.single != nil {
		return nil
	}
	raw, err := s.readRaw(0, s.rawSize)
	if err != nil {
		return err
	}
	if err := s.ensureKey(raw); err != nil {
		return err
	}
	out, err := s.decode(0, raw, s.dataSize)
	if err != nil {
		return err
	}
	s.single = out
	return nil
}

// ReadAt decodes len(p) bytes starting at off, touching only the sectors
// that cover the range.
func (s *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", off, mpqtype.ErrFormat)
	}
	if off >= int64(s.dataSize) {
		return 0, io.EOF
	}
	n := min(int64(len(p)), int64(s.dataSize)-off)
	if n == 0 {
		return 0, nil
	}
	var err error
	if s.singleUnit() {
		err = s.loadSingle()
		if err == nil {
			copy(p, s.single[off:off+n])
		}
	} else {
		err = s.readSectors(p[:n], uint32(off)) //nolint:gosec // bounded by dataSize
	}
	if err != nil {
		return 0, err
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (s *Reader) readSectors(p []byte, off uint32) error {
	if err := s.loadOffsets(); err != nil {
		return err
	}
	if s.cfg.Verify && s.offsets != nil {
		s.loadChecksums()
	}
	size := s.cfg.SectorSize
	first := off / size
	last := (off + uint32(len(p)) - 1) / size //nolint:gosec // bounded by dataSize

	// Serve a range inside the most recently decoded sector directly.
	if first == last && s.cachedIndex == int(first) {
		copy(p, s.cached[off-first*size:])
		return nil
	}

	rawFrom, rawTo := s.rawBounds(first), s.rawBounds(last+1)
	raw, err := s.readRaw(uint64(rawFrom), rawTo-rawFrom)
	if err != nil {
		return err
	}

	if s.encrypted() && !s.keyKnown {
		var head []byte
		if first == 0 {
			head = raw[:s.rawBounds(1)-rawFrom]
		} else if head, err = s.readRaw(0, s.rawBounds(1)); err != nil {
			return err
		}
		if err := s.ensureKey(head); err != nil {
			return err
		}
	}

	written := 0
	for i := first; i <= last; i++ {
		lo, hi := s.rawBounds(i)-rawFrom, s.rawBounds(i+1)-rawFrom
		want := min(size, s.dataSize-i*size)
		plain, err := s.decode(i, raw[lo:hi], want)
		if err != nil {
			return err
		}
		skip := uint32(0)
		if i == first {
			skip = off - first*size
		}
		written += copy(p[written:], plain[skip:])
		s.cachedIndex, s.cached = int(i), plain
	}
	return nil
}

// rawBounds returns the stored offset where sector i begins; i may equal
// the sector count to get the end of the data.
func (s *Reader) rawBounds(i uint32) uint32 {
	if s.offsets != nil {
		return s.offsets[i]
	}
	return min(i*s.cfg.SectorSize, s.rawSize)
}

// ReadAll decodes the whole entry.
func (s *Reader) ReadAll() ([]byte, error) {
	out := make([]byte, s.dataSize)
	if s.dataSize == 0 {
		return out, nil
	}
	if _, err := s.ReadAt(out, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return out, nil
}
