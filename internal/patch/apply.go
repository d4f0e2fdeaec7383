package patch

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/internal/mpqtype"
)

const (
	bsdiffSig       = 0x3034464649445342 // "BSDIFF40"
	bsdiffHeaderLen = 32
	signBit         = 0x80000000
)

// Apply runs a single decoded patch file over base and returns the new file.
// The MD5 recorded for the result is verified.
func Apply(base, file []byte) ([]byte, error) {
	h, err := ParseHeader(file)
	if err != nil {
		return nil, err
	}
	out, err := transform(h, base, file)
	if err != nil {
		return nil, err
	}
	if md5.Sum(out) != h.MD5After {
		return nil, fmt.Errorf("patched file digest: %w", mpqtype.ErrCorrupt)
	}
	return out, nil
}

func transform(h *Header, base, file []byte) ([]byte, error) {
	payload := file[HeaderSize:]
	switch h.Type {
	case TypeCopy:
		if uint64(len(payload)) < uint64(h.SizeAfter) {
			return nil, fmt.Errorf("copy patch holds %d of %d bytes: %w", len(payload), h.SizeAfter, mpqtype.ErrCorrupt)
		}
		return bytes.Clone(payload[:h.SizeAfter]), nil
	case TypeBSD0:
		diff, err := bsd0Payload(h, payload)
		if err != nil {
			return nil, err
		}
		return bsdiff(base, diff)
	}
	return nil, fmt.Errorf("patch type %#x: %w", h.Type, mpqtype.ErrNotSupported)
}

// bsd0Payload returns the BSDIFF40 stream, undoing the run-length packing
// when the transform block is smaller than the declared patch data.
func bsd0Payload(h *Header, payload []byte) ([]byte, error) {
	if h.PatchDataSize < HeaderSize {
		return nil, fmt.Errorf("patch data size %d: %w", h.PatchDataSize, mpqtype.ErrFormat)
	}
	want := int(h.PatchDataSize - HeaderSize)
	packed := int(h.XfrmBlockSize - xfrmHeaderLen)
	if packed >= want {
		if len(payload) < want {
			return nil, fmt.Errorf("diff holds %d of %d bytes: %w", len(payload), want, mpqtype.ErrCorrupt)
		}
		return payload[:want], nil
	}
	if len(payload) < packed {
		return nil, fmt.Errorf("packed diff holds %d of %d bytes: %w", len(payload), packed, mpqtype.ErrCorrupt)
	}
	return unpackRLE(payload[:packed], want), nil
}

// unpackRLE expands the transform payload: a leading size word, then runs of
// literal bytes (high bit set, count+1 bytes follow) and zero gaps (count+1).
func unpackRLE(src []byte, size int) []byte {
	out := make([]byte, size)
	if len(src) < 4 {
		return out
	}
	src = src[4:]
	o := 0
	for len(src) > 0 && o < size {
		b := src[0]
		src = src[1:]
		if b&0x80 == 0 {
			o += int(b) + 1
			continue
		}
		for n := int(b&0x7F) + 1; n > 0 && len(src) > 0 && o < size; n-- {
			out[o] = src[0]
			o++
			src = src[1:]
		}
	}
	return out
}

// packRLE is the inverse of unpackRLE.
func packRLE(src []byte) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(src)))
	for i := 0; i < len(src); {
		if src[i] == 0 {
			n := 0
			for i+n < len(src) && src[i+n] == 0 && n < 0x80 {
				n++
			}
			out = append(out, byte(n-1))
			i += n
			continue
		}
		n := 0
		for i+n < len(src) && src[i+n] != 0 && n < 0x80 {
			n++
		}
		out = append(out, 0x80|byte(n-1))
		out = append(out, src[i:i+n]...)
		i += n
	}
	return out
}

func bsdiff(old, diff []byte) ([]byte, error) {
	if len(diff) < bsdiffHeaderLen {
		return nil, fmt.Errorf("bsdiff header: %w", mpqtype.ErrCorrupt)
	}
	le := binary.LittleEndian
	if le.Uint64(diff) != bsdiffSig {
		return nil, fmt.Errorf("bsdiff signature: %w", mpqtype.ErrFormat)
	}
	ctrlLen := le.Uint64(diff[8:])
	dataLen := le.Uint64(diff[16:])
	newSize := le.Uint64(diff[24:])
	rest := uint64(len(diff) - bsdiffHeaderLen)
	if ctrlLen > rest || dataLen > rest-ctrlLen || newSize > uint64(maxOutput) {
		return nil, fmt.Errorf("bsdiff block sizes: %w", mpqtype.ErrCorrupt)
	}
	ctrl := diff[bsdiffHeaderLen : bsdiffHeaderLen+ctrlLen]
	data := diff[bsdiffHeaderLen+ctrlLen : bsdiffHeaderLen+ctrlLen+dataLen]
	extra := diff[bsdiffHeaderLen+ctrlLen+dataLen:]

	out := make([]byte, newSize)
	var newOff uint64
	var oldOff uint32
	for newOff < newSize {
		if len(ctrl) < 12 {
			return nil, fmt.Errorf("bsdiff control block exhausted: %w", mpqtype.ErrCorrupt)
		}
		add := uint64(le.Uint32(ctrl))
		mov := uint64(le.Uint32(ctrl[4:]))
		seek := le.Uint32(ctrl[8:])
		ctrl = ctrl[12:]

		if newOff+add > newSize || add > uint64(len(data)) {
			return nil, fmt.Errorf("bsdiff add run: %w", mpqtype.ErrCorrupt)
		}
		copy(out[newOff:], data[:add])
		data = data[add:]
		for i := uint64(0); i < add; i++ {
			if o := uint64(oldOff) + i; o < uint64(len(old)) {
				out[newOff+i] += old[o]
			}
		}
		newOff += add
		oldOff += uint32(add)

		if newOff+mov > newSize || mov > uint64(len(extra)) {
			return nil, fmt.Errorf("bsdiff extra run: %w", mpqtype.ErrCorrupt)
		}
		copy(out[newOff:], extra[:mov])
		extra = extra[mov:]
		newOff += mov

		if seek&signBit != 0 {
			seek = signBit - seek
		}
		oldOff += seek
	}
	return out, nil
}

const maxOutput = 1 << 31
