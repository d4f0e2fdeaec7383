package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/meigma/mpq/internal/mpqtype"
)

func decodeZlib(src []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w: %w", mpqtype.ErrCorrupt, err)
	}
	defer zr.Close()
	return readBounded(zr, size)
}

func encodeZlib(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readBounded reads at most size bytes from r. Producing more is corruption.
func readBounded(r io.Reader, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	buf := bytes.NewBuffer(out)
	n, err := io.Copy(buf, io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mpqtype.ErrCorrupt, err)
	}
	if n > int64(size) {
		return nil, fmt.Errorf("decoded data exceeds %d bytes: %w", size, mpqtype.ErrCorrupt)
	}
	return buf.Bytes(), nil
}
