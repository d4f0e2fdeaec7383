// Package sizing provides overflow-checked size arithmetic for archive
// offsets and lengths.
package sizing

import (
	"fmt"
	"math"

	"github.com/meigma/mpq/internal/mpqtype"
)

// ToInt converts a uint64 to int, failing with ErrCapacity if it doesn't fit.
func ToInt(size uint64) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, fmt.Errorf("size %d exceeds int: %w", size, mpqtype.ErrCapacity)
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, failing with ErrCapacity if it doesn't fit.
func ToInt64(size uint64) (int64, error) {
	if size > math.MaxInt64 {
		return 0, fmt.Errorf("offset %d exceeds int64: %w", size, mpqtype.ErrCapacity)
	}
	return int64(size), nil
}

// Add adds two uint64 values, returning (result, false) on overflow.
func Add(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Fits reports whether the range [off, off+n) lies within size.
func Fits(off, n, size uint64) bool {
	end, ok := Add(off, n)
	return ok && end <= size
}

// Uint32 narrows v for a 32-bit on-disk field, failing with ErrCapacity.
func Uint32(v uint64, field string) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%s %d exceeds 32 bits: %w", field, v, mpqtype.ErrCapacity)
	}
	return uint32(v), nil
}
