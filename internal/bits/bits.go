// Package bits reads and writes fixed-width fields packed at arbitrary bit
// offsets, least significant bit first.
package bits

import mbits "math/bits"

// Get returns the length-bit field starting at bit offset off. length is at
// most 64. Bits past the end of buf read as zero.
func Get(buf []byte, off uint64, length uint32) uint64 {
	var v uint64
	for done := uint32(0); done < length; {
		idx := off / 8
		shift := uint32(off % 8)
		n := min(8-shift, length-done)
		if idx < uint64(len(buf)) {
			b := uint64(buf[idx]>>shift) & (1<<n - 1)
			v |= b << done
		}
		done += n
		off += uint64(n)
	}
	return v
}

// Set writes the low length bits of v at bit offset off. Bits past the end
// of buf are dropped.
func Set(buf []byte, off uint64, length uint32, v uint64) {
	for done := uint32(0); done < length; {
		idx := off / 8
		shift := uint32(off % 8)
		n := min(8-shift, length-done)
		if idx < uint64(len(buf)) {
			mask := byte((1<<n - 1) << shift)
			buf[idx] = buf[idx]&^mask | byte(v>>done<<shift)&mask
		}
		done += n
		off += uint64(n)
	}
}

// Width returns the number of bits needed to represent max. Zero needs no
// bits.
func Width(max uint64) uint32 {
	return uint32(mbits.Len64(max))
}

// Bytes returns the byte length of a buffer holding n bits.
func Bytes(n uint64) uint64 {
	return (n + 7) / 8
}

// Array is a packed array of Count unsigned values of Width bits each.
type Array struct {
	Data  []byte
	Width uint32
	Count uint64
}

// NewArray allocates a zeroed array of count values of width bits.
func NewArray(width uint32, count uint64) *Array {
	return &Array{
		Data:  make([]byte, Bytes(uint64(width)*count)),
		Width: width,
		Count: count,
	}
}

// At returns element i.
func (a *Array) At(i uint64) uint64 {
	return Get(a.Data, i*uint64(a.Width), a.Width)
}

// Put stores the low Width bits of v as element i.
func (a *Array) Put(i uint64, v uint64) {
	Set(a.Data, i*uint64(a.Width), a.Width, v)
}
