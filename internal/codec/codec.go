// Package codec decodes and encodes compressed sector payloads.
//
// A compressed sector starts with a one-byte mask naming the algorithms that
// were applied. Decoding undoes them in a fixed order. Algorithms without a
// built-in implementation can be supplied through Register.
package codec

import (
	"fmt"
	"sync"

	"github.com/meigma/mpq/internal/mpqtype"
)

// Compression mask bits.
const (
	Huffman     byte = 0x01
	Zlib        byte = 0x02
	PKWare      byte = 0x08
	Bzip2       byte = 0x10
	Sparse      byte = 0x20
	ADPCMMono   byte = 0x40
	ADPCMStereo byte = 0x80

	// LZMA is exclusive and never combined with other bits.
	LZMA byte = 0x12
)

// Decoder reverses one compression step. size is the expected size of the
// final sector and bounds the output.
type Decoder func(src []byte, size int) ([]byte, error)

// Encoder applies one compression step.
type Encoder func(src []byte) ([]byte, error)

// decodeOrder lists the mask bits in decode order.
var decodeOrder = []byte{Bzip2, PKWare, Zlib, Sparse, Huffman, ADPCMStereo, ADPCMMono}

var (
	mu       sync.RWMutex
	decoders = map[byte]Decoder{
		Zlib:   decodeZlib,
		Bzip2:  decodeBzip2,
		PKWare: Explode,
		Sparse: decodeSparse,
		LZMA:   decodeLZMA,
	}
	encoders = map[byte]Encoder{
		Zlib:   encodeZlib,
		Sparse: encodeSparse,
		LZMA:   encodeLZMA,
	}
)

// Register installs a decoder for a mask bit, replacing any previous one.
func Register(mask byte, d Decoder) {
	mu.Lock()
	defer mu.Unlock()
	decoders[mask] = d
}

func decoder(mask byte) (Decoder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := decoders[mask]
	return d, ok
}

// Decompress decodes a mask-prefixed sector into at most size bytes.
func Decompress(src []byte, size int) ([]byte, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("empty compressed sector: %w", mpqtype.ErrCorrupt)
	}
	mask, data := src[0], src[1:]

	if mask == LZMA {
		d, _ := decoder(LZMA)
		return d(data, size)
	}

	rest := mask
	for _, bit := range decodeOrder {
		if mask&bit == 0 {
			continue
		}
		d, ok := decoder(bit)
		if !ok {
			return nil, fmt.Errorf("compression %#02x: %w", bit, mpqtype.ErrNotSupported)
		}
		out, err := d(data, size)
		if err != nil {
			return nil, fmt.Errorf("compression %#02x: %w", bit, err)
		}
		data = out
		rest &^= bit
	}
	if rest != 0 {
		return nil, fmt.Errorf("compression mask %#02x: %w", rest, mpqtype.ErrNotSupported)
	}
	return data, nil
}

// Compress encodes src with the algorithm named by mask and prefixes the
// mask byte. Only single built-in algorithms can be encoded.
func Compress(src []byte, mask byte) ([]byte, error) {
	mu.RLock()
	e, ok := encoders[mask]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("compress with %#02x: %w", mask, mpqtype.ErrNotSupported)
	}
	out, err := e(src)
	if err != nil {
		return nil, err
	}
	return append([]byte{mask}, out...), nil
}
