// Package patch replays incremental patch files over a base file.
package patch

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/internal/mpqtype"
)

// Block signatures and transform types.
const (
	SigPatch = 0x48435450 // "PTCH"
	SigMD5   = 0x5F35444D // "MD5_"
	SigXfrm  = 0x4D524658 // "XFRM"

	TypeCopy = 0x59504F43 // "COPY"
	TypeBSD0 = 0x30445342 // "BSD0"

	// HeaderSize covers the PTCH, MD5_ and XFRM blocks up to the transform
	// payload.
	HeaderSize = 0x48

	md5BlockSize  = 0x28
	xfrmHeaderLen = 0x0C
)

// Header is the fixed header at the start of a decoded patch file.
type Header struct {
	PatchDataSize uint32
	SizeBefore    uint32
	SizeAfter     uint32
	MD5Before     [md5.Size]byte
	MD5After      [md5.Size]byte
	XfrmBlockSize uint32
	Type          uint32
}

// ParseHeader decodes and validates the header of a patch file.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("patch of %d bytes: %w", len(buf), mpqtype.ErrFormat)
	}
	le := binary.LittleEndian
	if le.Uint32(buf[0x00:]) != SigPatch || le.Uint32(buf[0x10:]) != SigMD5 || le.Uint32(buf[0x38:]) != SigXfrm {
		return nil, fmt.Errorf("patch signatures: %w", mpqtype.ErrFormat)
	}
	h := &Header{
		PatchDataSize: le.Uint32(buf[0x04:]),
		SizeBefore:    le.Uint32(buf[0x08:]),
		SizeAfter:     le.Uint32(buf[0x0C:]),
		XfrmBlockSize: le.Uint32(buf[0x3C:]),
		Type:          le.Uint32(buf[0x40:]),
	}
	copy(h.MD5Before[:], buf[0x18:])
	copy(h.MD5After[:], buf[0x28:])
	if h.Type != TypeCopy && h.Type != TypeBSD0 {
		return nil, fmt.Errorf("patch type %#x: %w", h.Type, mpqtype.ErrNotSupported)
	}
	if h.XfrmBlockSize < xfrmHeaderLen {
		return nil, fmt.Errorf("transform block size %d: %w", h.XfrmBlockSize, mpqtype.ErrFormat)
	}
	return h, nil
}

// Marshal encodes h followed by payload as a patch file.
func (h *Header) Marshal(payload []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	le := binary.LittleEndian
	le.PutUint32(buf[0x00:], SigPatch)
	le.PutUint32(buf[0x04:], h.PatchDataSize)
	le.PutUint32(buf[0x08:], h.SizeBefore)
	le.PutUint32(buf[0x0C:], h.SizeAfter)
	le.PutUint32(buf[0x10:], SigMD5)
	le.PutUint32(buf[0x14:], md5BlockSize)
	copy(buf[0x18:], h.MD5Before[:])
	copy(buf[0x28:], h.MD5After[:])
	le.PutUint32(buf[0x38:], SigXfrm)
	le.PutUint32(buf[0x3C:], h.XfrmBlockSize)
	le.PutUint32(buf[0x40:], h.Type)
	return append(buf, payload...)
}
