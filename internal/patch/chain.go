package patch

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/meigma/mpq/internal/mpqtype"
)

// Chain replays patch files in order over a base file.
//
// Before each step the chain picks whichever of the base and the previous
// result matches the step's "before" digest. Only those two buffers are
// held at any time.
type Chain struct {
	base     []byte
	baseSum  [md5.Size]byte
	prev     []byte
	prevSum  [md5.Size]byte
	hasPrev  bool
	logger   *slog.Logger
	numSteps int
}

// NewChain starts a chain at base. A nil logger discards records.
func NewChain(base []byte, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{base: base, baseSum: md5.Sum(base), logger: logger}
}

// Step applies one decoded patch file.
func (c *Chain) Step(file []byte) error {
	h, err := ParseHeader(file)
	if err != nil {
		return err
	}
	var src []byte
	switch {
	case c.hasPrev && c.prevSum == h.MD5Before:
		src = c.prev
	case c.baseSum == h.MD5Before:
		src = c.base
	default:
		return fmt.Errorf("patch step %d: no version matches the expected source digest: %w", c.numSteps, mpqtype.ErrCorrupt)
	}
	out, err := transform(h, src, file)
	if err != nil {
		return fmt.Errorf("patch step %d: %w", c.numSteps, err)
	}
	sum := md5.Sum(out)
	if sum != h.MD5After {
		return fmt.Errorf("patch step %d: result digest: %w", c.numSteps, mpqtype.ErrCorrupt)
	}
	c.logger.Debug("applied patch", "step", c.numSteps, "type", typeName(h.Type), "size", len(out))
	c.prev, c.prevSum, c.hasPrev = out, sum, true
	c.numSteps++
	return nil
}

// Result returns the latest version.
func (c *Chain) Result() []byte {
	if c.hasPrev {
		return c.prev
	}
	return c.base
}

func typeName(t uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], t)
	return string(b[:])
}

// NewCopy builds a patch file that replaces before with after verbatim.
func NewCopy(before, after []byte) []byte {
	h := &Header{
		PatchDataSize: uint32(HeaderSize + len(after)),
		SizeBefore:    uint32(len(before)),
		SizeAfter:     uint32(len(after)),
		MD5Before:     md5.Sum(before),
		MD5After:      md5.Sum(after),
		XfrmBlockSize: uint32(xfrmHeaderLen + len(after)),
		Type:          TypeCopy,
	}
	return h.Marshal(after)
}

// Control is one bsdiff control triple.
type Control struct {
	Add   uint32
	Extra uint32
	Seek  int32
}

// NewDiff builds a BSD0 patch file from control triples and their data and
// extra streams. The payload is run-length packed when that is smaller.
func NewDiff(before []byte, ctrl []Control, data, extra []byte) ([]byte, error) {
	var newSize uint64
	for _, c := range ctrl {
		newSize += uint64(c.Add) + uint64(c.Extra)
	}
	le := binary.LittleEndian
	diff := make([]byte, bsdiffHeaderLen, bsdiffHeaderLen+12*len(ctrl)+len(data)+len(extra))
	le.PutUint64(diff, bsdiffSig)
	le.PutUint64(diff[8:], uint64(12*len(ctrl)))
	le.PutUint64(diff[16:], uint64(len(data)))
	le.PutUint64(diff[24:], newSize)
	for _, c := range ctrl {
		diff = le.AppendUint32(diff, c.Add)
		diff = le.AppendUint32(diff, c.Extra)
		diff = le.AppendUint32(diff, encodeSeek(c.Seek))
	}
	diff = append(diff, data...)
	diff = append(diff, extra...)

	after, err := bsdiff(before, diff)
	if err != nil {
		return nil, err
	}
	payload := diff
	if packed := packRLE(diff); len(packed) < len(diff) {
		payload = packed
	}
	h := &Header{
		PatchDataSize: uint32(HeaderSize + len(diff)),
		SizeBefore:    uint32(len(before)),
		SizeAfter:     uint32(len(after)),
		MD5Before:     md5.Sum(before),
		MD5After:      md5.Sum(after),
		XfrmBlockSize: uint32(xfrmHeaderLen + len(payload)),
		Type:          TypeBSD0,
	}
	return h.Marshal(payload), nil
}

func encodeSeek(s int32) uint32 {
	if s >= 0 {
		return uint32(s)
	}
	return signBit | uint32(-int64(s))
}
