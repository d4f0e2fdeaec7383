package codec

import (
	"fmt"
	"sync"

	"github.com/meigma/mpq/internal/mpqtype"
)

// PKWARE DCL implode streams: canonical Huffman codes with inverted bits,
// read least significant bit first.
const (
	explodeMaxBits = 13
	explodeEnd     = 519
)

// Code lengths as (repeat-1)<<4 | length.
var (
	explodeLitLen = []byte{
		11, 124, 8, 7, 28, 7, 188, 13, 76, 4, 10, 8, 12, 10, 12, 10, 8, 23, 8,
		9, 7, 6, 7, 8, 7, 6, 55, 8, 23, 24, 12, 11, 7, 9, 11, 12, 6, 7, 22, 5,
		7, 24, 6, 11, 9, 6, 7, 22, 7, 11, 38, 7, 9, 8, 25, 11, 8, 11, 9, 12,
		8, 12, 5, 38, 5, 38, 5, 11, 7, 5, 6, 21, 6, 10, 53, 8, 7, 24, 10, 27,
		44, 253, 253, 253, 252, 252, 252, 13, 12, 45, 12, 45, 12, 61, 12, 45,
		44, 173,
	}
	explodeLenLen  = []byte{2, 35, 36, 53, 38, 23}
	explodeDistLen = []byte{2, 20, 53, 230, 247, 151, 248}
	explodeBase    = [16]int{3, 2, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}
	explodeExtra   = [16]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
)

type huffman struct {
	count  [explodeMaxBits + 1]int
	symbol []int
}

func newHuffman(rep []byte) *huffman {
	var lengths []int
	for _, b := range rep {
		n := int(b>>4) + 1
		for range n {
			lengths = append(lengths, int(b&15))
		}
	}
	h := &huffman{symbol: make([]int, len(lengths))}
	for _, l := range lengths {
		h.count[l]++
	}
	var offs [explodeMaxBits + 1]int
	for l := 1; l < explodeMaxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = sym
			offs[l]++
		}
	}
	return h
}

type explodeCodes struct {
	lit, length, dist *huffman
}

var explodeTables = sync.OnceValue(func() explodeCodes {
	return explodeCodes{
		lit:    newHuffman(explodeLitLen),
		length: newHuffman(explodeLenLen),
		dist:   newHuffman(explodeDistLen),
	}
})

type bitReader struct {
	src    []byte
	pos    int
	buf    uint32
	nbits  uint
	failed bool
}

func (r *bitReader) bits(n uint) int {
	for r.nbits < n {
		if r.pos >= len(r.src) {
			r.failed = true
			return 0
		}
		r.buf |= uint32(r.src[r.pos]) << r.nbits
		r.pos++
		r.nbits += 8
	}
	v := r.buf & (1<<n - 1)
	r.buf >>= n
	r.nbits -= n
	return int(v)
}

func (r *bitReader) decode(h *huffman) int {
	code, first, index := 0, 0, 0
	for l := 1; l <= explodeMaxBits; l++ {
		code |= r.bits(1) ^ 1
		if r.failed {
			return -1
		}
		count := h.count[l]
		if code < first+count {
			return h.symbol[index+code-first]
		}
		index += count
		first = (first + count) << 1
		code <<= 1
	}
	return -1
}

// Explode decodes a PKWARE DCL imploded stream into at most size bytes.
func Explode(src []byte, size int) ([]byte, error) {
	codes := explodeTables()
	lit, length, dist := codes.lit, codes.length, codes.dist
	r := &bitReader{src: src}

	coded := r.bits(8)
	dictBits := uint(r.bits(8))
	if r.failed || coded > 1 || dictBits < 4 || dictBits > 6 {
		return nil, fmt.Errorf("implode header: %w", mpqtype.ErrCorrupt)
	}

	out := make([]byte, 0, size)
	for len(out) < size {
		flag := r.bits(1)
		if r.failed {
			break
		}
		if flag == 0 {
			var sym int
			if coded == 1 {
				sym = r.decode(lit)
			} else {
				sym = r.bits(8)
			}
			if r.failed || sym < 0 {
				return nil, fmt.Errorf("implode literal: %w", mpqtype.ErrCorrupt)
			}
			out = append(out, byte(sym))
			continue
		}

		sym := r.decode(length)
		if sym < 0 {
			return nil, fmt.Errorf("implode length: %w", mpqtype.ErrCorrupt)
		}
		n := explodeBase[sym] + r.bits(explodeExtra[sym])
		if n == explodeEnd {
			break
		}
		shift := dictBits
		if n == 2 {
			shift = 2
		}
		d := r.decode(dist)
		if d < 0 {
			return nil, fmt.Errorf("implode distance: %w", mpqtype.ErrCorrupt)
		}
		back := d<<shift + r.bits(shift) + 1
		if r.failed || back > len(out) {
			return nil, fmt.Errorf("implode distance too far back: %w", mpqtype.ErrCorrupt)
		}
		n = min(n, size-len(out))
		for i := 0; i < n; i++ {
			out = append(out, out[len(out)-back])
		}
	}
	return out, nil
}
