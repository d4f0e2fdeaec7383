package mpq

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"math/bits"
	"slices"
	"strings"

	"github.com/meigma/mpq/internal/classic"
	"github.com/meigma/mpq/internal/compact"
	"github.com/meigma/mpq/internal/filetable"
	"github.com/meigma/mpq/internal/format"
	"github.com/meigma/mpq/internal/mpqtype"
	"github.com/meigma/mpq/internal/sector"
	"github.com/meigma/mpq/internal/sidecar"
	"github.com/meigma/mpq/internal/sizing"
	"github.com/meigma/mpq/stream"
)

// maxSectorSizeShift bounds sectors to 16MB.
const maxSectorSizeShift = 15

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
)

// Archive is an open MPQ archive.
//
// An Archive is not safe for concurrent use when it is modified. Reads of
// different files may run concurrently when the underlying stream allows
// overlapping positioned reads, which every backend in package stream does.
type Archive struct {
	cfg config
	src stream.Stream
	// w is src when the stream is writable, nil otherwise.
	w stream.Writable

	// offset is the stream offset of the archive header.
	offset   uint64
	hdr      *format.Header
	userData *format.UserData
	table    *filetable.Table

	// dataEnd is the archive-relative position where new data is written.
	dataEnd uint64

	readOnly bool
	dirty    bool
	closed   bool

	// Sidecars maintained on Flush.
	listfile  bool
	attrFlags uint32

	patches []patchLayer
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.cfg.logger
}

func newConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Open opens the archive at path. The archive is opened for writing unless
// WithReadOnly is given.
func Open(path string, opts ...Option) (*Archive, error) {
	cfg := newConfig(opts)
	var (
		s   stream.Stream
		err error
	)
	if cfg.readOnly {
		s, err = stream.OpenFile(path)
	} else {
		s, err = stream.OpenFileRW(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a, err := openStream(s, cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

// OpenStream opens the archive stored in s. The archive is writable when s
// implements stream.Writable and WithReadOnly is not given. Close closes s.
func OpenStream(s stream.Stream, opts ...Option) (*Archive, error) {
	return openStream(s, newConfig(opts))
}

func openStream(s stream.Stream, cfg config) (*Archive, error) {
	size := s.Size()
	if size < 0 {
		return nil, fmt.Errorf("stream size %d: %w", size, mpqtype.ErrFormat)
	}
	fileSize := uint64(size)
	loc, err := format.Search(s, fileSize)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		cfg:      cfg,
		src:      s,
		offset:   loc.Offset,
		hdr:      loc.Header,
		userData: loc.UserData,
	}
	if w, ok := s.(stream.Writable); ok && !cfg.readOnly {
		a.w = w
	} else {
		a.readOnly = true
	}

	h := a.hdr
	a.log().Debug("archive header",
		"version", h.Version,
		"offset", a.offset,
		"sector_size", h.SectorSize(),
		"archive_size", h.ArchiveSize,
	)
	if h.Malformed {
		a.downgrade("malformed header", nil)
	}
	if err := a.loadIndex(fileSize); err != nil {
		return nil, err
	}
	a.dataEnd = a.usedEnd()

	a.loadSidecars()
	if !a.readOnly {
		a.table.Reserve(a.listfile, a.attrFlags != 0)
	}
	return a, nil
}

// Create creates a new archive at path, replacing any existing file.
func Create(path string, opts ...Option) (*Archive, error) {
	w, err := stream.CreateFile(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	a, err := CreateStream(w, opts...)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return a, nil
}

// CreateStream creates a new archive in w, discarding its contents. The
// archive is written on Flush or Close. Close closes w.
func CreateStream(w stream.Writable, opts ...Option) (*Archive, error) {
	cfg := newConfig(opts)
	if cfg.version < 1 || cfg.version > 4 {
		return nil, fmt.Errorf("format version %d: %w", cfg.version, mpqtype.ErrNotSupported)
	}
	if cfg.sectorShift > maxSectorSizeShift {
		return nil, fmt.Errorf("sector size shift %d: %w", cfg.sectorShift, mpqtype.ErrNotSupported)
	}
	if cfg.maxFiles == 0 || cfg.maxFiles > 1<<20 {
		return nil, fmt.Errorf("capacity of %d files: %w", cfg.maxFiles, mpqtype.ErrCapacity)
	}
	v := format.Version(cfg.version - 1) //nolint:gosec // validated above

	hash, err := classic.NewHashTable(hashTableSize(cfg.maxFiles))
	if err != nil {
		return nil, err
	}
	table, err := filetable.New(hash, v >= format.V3, cfg.maxFiles, compact.DefaultHashBits)
	if err != nil {
		return nil, err
	}
	if err := w.SetSize(0); err != nil {
		return nil, fmt.Errorf("truncate stream: %w", err)
	}

	a := &Archive{
		cfg: cfg,
		src: w,
		w:   w,
		hdr: &format.Header{
			Version:         v,
			HeaderSize:      v.HeaderSize(),
			SectorSizeShift: cfg.sectorShift,
		},
		table:     table,
		dataEnd:   uint64(v.HeaderSize()),
		dirty:     true,
		listfile:  true,
		attrFlags: AttrCRC32 | AttrFileTime | AttrMD5,
	}
	if cfg.attributesSet {
		a.attrFlags = cfg.attributes & AttrAll
	}
	table.Reserve(a.listfile, a.attrFlags != 0)
	a.log().Debug("archive created", "version", v, "max_files", cfg.maxFiles, "sector_size", a.hdr.SectorSize())
	return a, nil
}

// hashTableSize returns the smallest power of two holding n entries.
func hashTableSize(n uint32) uint32 {
	if n <= 4 {
		return 4
	}
	return 1 << bits.Len32(n-1)
}

// downgrade makes the session read-only.
func (a *Archive) downgrade(reason string, err error) {
	if !a.readOnly {
		a.log().Debug("archive opened read-only", "reason", reason, "error", err)
	}
	a.readOnly = true
}

// loadIndex builds the file table from the classic tables, the compact
// index or both. When one of them is unusable the other is used alone and
// the session becomes read-only.
func (a *Archive) loadIndex(fileSize uint64) error {
	h := a.hdr
	hasClassic := h.HashTablePos != 0 || h.HashTableEntries != 0
	hasCompact := h.HetTablePos != 0 && h.BetTablePos != 0
	switch a.cfg.prefer {
	case preferClassic:
		hasCompact = hasCompact && !hasClassic
	case preferCompact:
		hasClassic = hasClassic && !hasCompact
	}

	var (
		ci         *classic.Index
		x          *compact.Index
		cerr, xerr error
	)
	if hasClassic {
		ci, cerr = classic.Load(a.src, h, a.offset, fileSize)
	}
	if hasCompact {
		x, xerr = compact.Load(a.src,
			h.Abs(a.offset, h.HetTablePos), h.HetTableSize,
			h.Abs(a.offset, h.BetTablePos), h.BetTableSize,
			fileSize)
	}

	switch {
	case ci != nil && x != nil:
		a.table = filetable.PopulateFromClassic(ci, x.HashBits())
		if err := a.table.AttachCompact(x); err != nil {
			a.downgrade("indexes disagree", err)
		}
	case ci != nil:
		a.table = filetable.PopulateFromClassic(ci, compact.DefaultHashBits)
		if xerr != nil {
			a.downgrade("compact index unusable", xerr)
		}
	case x != nil:
		a.table = filetable.PopulateFromCompact(x)
		if cerr != nil {
			a.downgrade("classic index unusable", cerr)
		}
	case cerr != nil || xerr != nil:
		return fmt.Errorf("load index: %w", errors.Join(cerr, xerr))
	default:
		return fmt.Errorf("archive has no index: %w", mpqtype.ErrFormat)
	}
	if ci != nil && ci.Cut {
		a.downgrade("index tables run past the end of the stream", nil)
	}
	a.log().Debug("index loaded",
		"classic", a.table.Classic != nil,
		"compact", a.table.Compact != nil,
		"entries", len(a.table.Entries),
	)
	return nil
}

// usedEnd returns the end of the furthest table or entry, relative to the
// archive offset.
func (a *Archive) usedEnd() uint64 {
	h := a.hdr
	end := max(h.ArchiveSize, uint64(h.HeaderSize))
	for _, r := range [][2]uint64{
		{h.HashTablePos, h.HashTableSize},
		{h.BlockTablePos, h.BlockTableSize},
		{h.HiBlockTablePos, h.HiBlockTableSize},
		{h.HetTablePos, h.HetTableSize},
		{h.BetTablePos, h.BetTableSize},
	} {
		if r[0] != 0 {
			end = max(end, r[0]+r[1])
		}
	}
	for _, e := range a.table.All() {
		end = max(end, e.FilePos+uint64(e.CSize))
	}
	return end
}

// loadSidecars recovers names from "(listfile)" and external name lists and
// per-file attributes from "(attributes)". Unreadable sidecars are skipped.
func (a *Archive) loadSidecars() {
	for _, name := range []string{format.ListfileName, format.AttributesName, format.SignatureName} {
		a.applyName(name)
	}

	if data, err := a.readInternal(format.ListfileName); err == nil {
		a.listfile = true
		a.applyNames(sidecar.ParseListfile(data), false)
	} else if !errors.Is(err, mpqtype.ErrNotFound) {
		a.log().Debug("listfile unreadable", "error", err)
	}
	for _, lf := range a.cfg.listfiles {
		a.applyNames(sidecar.ParseListfile(lf), true)
	}

	data, err := a.readInternal(format.AttributesName)
	if err != nil {
		if !errors.Is(err, mpqtype.ErrNotFound) {
			a.log().Debug("attributes unreadable", "error", err)
		}
		return
	}
	attrs, err := sidecar.ParseAttributes(data, len(a.table.Entries))
	if err != nil {
		a.log().Debug("attributes ignored", "error", err)
		return
	}
	a.attrFlags = attrs.Flags
	for ord := range min(attrs.Len(), len(a.table.Entries)) {
		e := &a.table.Entries[ord]
		if attrs.CRC32 != nil {
			e.CRC32 = attrs.CRC32[ord]
		}
		if attrs.FileTime != nil {
			e.FileTime = attrs.FileTime[ord]
		}
		if attrs.MD5 != nil {
			e.MD5 = attrs.MD5[ord]
		}
	}
}

// applyNames records names for the entries they resolve to. External names
// are UTF-8 and are retried in the archive's name encoding.
func (a *Archive) applyNames(names []string, external bool) {
	found := 0
	for _, name := range names {
		if a.applyName(name) {
			found++
			continue
		}
		if !external {
			continue
		}
		if raw, ok := sidecar.EncodeName(a.cfg.nameEncoding, name); ok && a.applyName(raw) {
			found++
		}
	}
	a.log().Debug("names applied", "external", external, "names", len(names), "found", found)
}

// applyName names every locale variant of name.
func (a *Archive) applyName(name string) bool {
	t := a.table
	if t.Classic == nil {
		ord, ok := t.Lookup(name, 0, 0)
		if ok {
			t.SetName(ord, name)
		}
		return ok
	}
	found := false
	for slot, ok := t.Classic.First(name); ok; slot, ok = t.Classic.Next(name, slot) {
		ord := int(t.Classic.Entries[slot].BlockIndex)
		if ord < len(t.Entries) && t.Entries[ord].Exists() {
			t.SetName(ord, name)
			found = true
		}
	}
	return found
}

// find resolves a name to an ordinal. Names are tried as given, then in
// the archive's name encoding, then as placeholder names.
func (a *Archive) find(name string) (int, bool) {
	t := a.table
	if ord, ok := t.Lookup(name, a.cfg.locale, 0); ok {
		if t.Entries[ord].Name == "" {
			t.SetName(ord, name)
		}
		return ord, true
	}
	if raw, ok := sidecar.EncodeName(a.cfg.nameEncoding, name); ok {
		if ord, ok := t.Lookup(raw, a.cfg.locale, 0); ok {
			if t.Entries[ord].Name == "" {
				t.SetName(ord, raw)
			}
			return ord, true
		}
	}
	if ord, ok := parsePseudoName(name); ok && ord < len(t.Entries) && t.Entries[ord].Exists() {
		return ord, true
	}
	return -1, false
}

// lookup is find with a typed error.
func (a *Archive) lookup(name string) (int, error) {
	if a.closed {
		return -1, fs.ErrClosed
	}
	ord, ok := a.find(name)
	if !ok {
		return -1, fmt.Errorf("%q: %w", name, mpqtype.ErrNotFound)
	}
	return ord, nil
}

// sectorReader opens a decoder for e.
func (a *Archive) sectorReader(e *filetable.Entry) (*sector.Reader, error) {
	return sector.Open(a.src, a.hdr.Abs(a.offset, e.FilePos), e, sector.Config{
		SectorSize: a.hdr.SectorSize(),
		Verify:     a.cfg.verifySectors,
		Logger:     a.log(),
	})
}

// readEntry decodes a whole entry. Patch entries decode to their patch
// file.
func (a *Archive) readEntry(ord int) ([]byte, error) {
	r, err := a.sectorReader(&a.table.Entries[ord])
	if err != nil {
		return nil, err
	}
	if err := a.checkSize(r.Size()); err != nil {
		return nil, err
	}
	return r.ReadAll()
}

func (a *Archive) checkSize(size int64) error {
	if limit := a.cfg.maxFileSize; limit > 0 && uint64(size) > limit { //nolint:gosec // sizes are non-negative
		return fmt.Errorf("file of %d bytes exceeds limit of %d: %w", size, limit, mpqtype.ErrCapacity)
	}
	return nil
}

// readInternal reads a sidecar entry.
func (a *Archive) readInternal(name string) ([]byte, error) {
	ord, ok := a.table.Lookup(name, format.LocaleNeutral, format.PlatformNeutral)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, mpqtype.ErrNotFound)
	}
	return a.readEntry(ord)
}

// displayName returns the UTF-8 name of an entry, or a placeholder derived
// from its first bytes when the name is unknown.
func (a *Archive) displayName(ord int) (string, bool) {
	e := &a.table.Entries[ord]
	if e.Name != "" {
		return sidecar.DecodeName(a.cfg.nameEncoding, e.Name), true
	}
	var head []byte
	if r, err := a.sectorReader(e); err == nil {
		buf := make([]byte, min(r.Size(), 16))
		if n, err := r.ReadAt(buf, 0); err == nil || n == len(buf) {
			head = buf[:n]
		}
	}
	return filetable.PseudoName(ord, head), false
}

func (a *Archive) entry(ord int) Entry {
	name, named := a.displayName(ord)
	return newEntry(ord, &a.table.Entries[ord], name, named)
}

// HasFile reports whether name resolves to a file in the archive or in an
// attached patch archive.
func (a *Archive) HasFile(name string) bool {
	if a.closed {
		return false
	}
	if _, ok := a.find(name); ok {
		return true
	}
	for _, l := range a.patches {
		if _, ok := l.archive.find(l.name(name)); ok {
			return true
		}
	}
	return false
}

// Lookup returns the entry name resolves to in this archive.
func (a *Archive) Lookup(name string) (Entry, bool) {
	if a.closed {
		return Entry{}, false
	}
	ord, ok := a.find(name)
	if !ok {
		return Entry{}, false
	}
	return a.entry(ord), true
}

// Entries iterates over the live entries in file-table order.
func (a *Archive) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if a.closed {
			return
		}
		for ord := range a.table.All() {
			if !yield(a.entry(ord)) {
				return
			}
		}
	}
}

// Names returns the sorted names of all entries whose name is known.
func (a *Archive) Names() []string {
	if a.closed {
		return nil
	}
	var names []string
	for _, e := range a.table.All() {
		if e.Name != "" {
			names = append(names, sidecar.DecodeName(a.cfg.nameEncoding, e.Name))
		}
	}
	slices.SortFunc(names, func(x, y string) int {
		return strings.Compare(strings.ToUpper(x), strings.ToUpper(y))
	})
	return slices.Compact(names)
}

// Info summarizes the archive layout.
type Info struct {
	// FormatVersion is 1 to 4.
	FormatVersion int
	// Offset is the stream offset of the archive header.
	Offset      uint64
	ArchiveSize uint64
	SectorSize  uint32

	// HashTableSize is the number of classic hash slots, 0 without
	// classic tables.
	HashTableSize int
	// BlockTableSize is the number of file-table entries, deleted ones
	// included.
	BlockTableSize int
	Classic        bool
	Compact        bool

	Files    int
	MaxFiles int

	ReadOnly  bool
	Malformed bool
	UserData  bool

	Listfile   bool
	Attributes uint32
}

// Info returns a summary of the archive.
func (a *Archive) Info() Info {
	info := Info{
		FormatVersion:  int(a.hdr.Version) + 1,
		Offset:         a.offset,
		ArchiveSize:    a.hdr.ArchiveSize,
		SectorSize:     a.hdr.SectorSize(),
		BlockTableSize: len(a.table.Entries),
		Classic:        a.table.Classic != nil,
		Compact:        a.table.Compact != nil,
		Files:          a.table.Live(),
		MaxFiles:       int(a.table.MaxFiles),
		ReadOnly:       a.readOnly,
		Malformed:      a.hdr.Malformed,
		UserData:       a.userData != nil,
		Listfile:       a.listfile,
		Attributes:     a.attrFlags,
	}
	if a.table.Classic != nil {
		info.HashTableSize = a.table.Classic.Len()
	}
	return info
}

// ReadOnly reports whether the archive rejects modifications.
func (a *Archive) ReadOnly() bool {
	return a.readOnly
}

// SourceID returns the identifier of the underlying stream.
func (a *Archive) SourceID() string {
	return a.src.SourceID()
}

// Close flushes pending changes and closes the stream. Attached patch
// archives are not closed.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	var flushErr error
	if a.dirty && !a.readOnly {
		flushErr = a.Flush()
	}
	a.closed = true
	return errors.Join(flushErr, a.src.Close())
}

// dataOffset converts an archive-relative position to a stream offset.
func (a *Archive) dataOffset(pos uint64) (int64, error) {
	abs, ok := sizing.Add(a.offset, pos)
	if !ok {
		return 0, fmt.Errorf("position %#x: %w", pos, mpqtype.ErrCapacity)
	}
	return sizing.ToInt64(abs)
}
