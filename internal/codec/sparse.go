package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/internal/mpqtype"
)

// Sparse streams start with the big-endian output size. Each control byte
// with the high bit set introduces (b&0x7F)+1 literal bytes; otherwise it
// stands for (b&0x7F)+3 zero bytes.
func decodeSparse(src []byte, size int) ([]byte, error) {
	if len(src) < 5 {
		return nil, fmt.Errorf("sparse stream too short: %w", mpqtype.ErrCorrupt)
	}
	want := min(int(binary.BigEndian.Uint32(src)), size)
	out := make([]byte, 0, want)
	src = src[4:]

	for len(src) > 0 && len(out) < want {
		b := src[0]
		src = src[1:]
		if b&0x80 != 0 {
			n := min(int(b&0x7F)+1, len(src), want-len(out))
			out = append(out, src[:n]...)
			src = src[n:]
			continue
		}
		n := min(int(b&0x7F)+3, want-len(out))
		out = append(out, make([]byte, n)...)
	}
	return out, nil
}

func encodeSparse(src []byte) ([]byte, error) {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(src))) //nolint:gosec // sector sized
	for i := 0; i < len(src); {
		zeros := 0
		for i+zeros < len(src) && src[i+zeros] == 0 && zeros < 0x7F+3 {
			zeros++
		}
		if zeros >= 3 {
			out = append(out, byte(zeros-3))
			i += zeros
			continue
		}
		start := i
		for i < len(src) && i-start < 0x80 {
			if i+2 < len(src) && src[i] == 0 && src[i+1] == 0 && src[i+2] == 0 {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1)|0x80)
		out = append(out, src[start:i]...)
	}
	return out, nil
}
