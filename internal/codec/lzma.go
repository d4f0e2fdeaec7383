package codec

import (
	"bytes"
	"fmt"

	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/mpq/internal/mpqtype"
)

// LZMA sectors carry a filter byte followed by a classic .lzma stream:
// five property bytes, a 64-bit size and the compressed data.
const lzmaFilterNone = 0

func decodeLZMA(src []byte, size int) ([]byte, error) {
	if len(src) < 1 || src[0] != lzmaFilterNone {
		return nil, fmt.Errorf("lzma filter: %w", mpqtype.ErrNotSupported)
	}
	lr, err := lzma.NewReader(bytes.NewReader(src[1:]))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w: %w", mpqtype.ErrCorrupt, err)
	}
	return readBounded(lr, size)
}

func encodeLZMA(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(lzmaFilterNone)
	cfg := lzma.WriterConfig{
		SizeInHeader: true,
		Size:         int64(len(src)),
	}
	lw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := lw.Write(src); err != nil {
		return nil, err
	}
	if err := lw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
