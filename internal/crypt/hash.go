package crypt

// Well-known table keys.
const (
	// HashTableKey encrypts the classic hash table and the HET table.
	HashTableKey uint32 = 0xC3AF3770

	// BlockTableKey encrypts the classic block table and the BET table.
	BlockTableKey uint32 = 0xEC83B3A3
)

// upper folds ASCII letters to upper case and '/' to '\'.
func upper(c byte) byte {
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a' + 'A'
	case c == '/':
		return '\\'
	default:
		return c
	}
}

// lower folds ASCII letters to lower case and '/' to '\'.
func lower(c byte) byte {
	switch {
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 'a'
	case c == '/':
		return '\\'
	default:
		return c
	}
}

// Hash computes the 32-bit name hash for the given purpose. Case and path
// separators are folded, so "A\B.txt" and "a/b.TXT" hash identically.
func Hash(name string, p Purpose) uint32 {
	t := cryptTable()
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)
	for i := 0; i < len(name); i++ {
		ch := uint32(upper(name[i]))
		seed1 = t[uint32(p)+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}
	return seed1
}

// Hash64 computes the compact-index name hash masked to bits (1..64) with
// the top bit forced set, so the result is never zero.
func Hash64(name string, bits uint32) uint64 {
	if bits == 0 || bits > 64 {
		bits = 64
	}
	norm := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		norm[i] = lower(name[i])
	}
	primary, secondary := uint32(1), uint32(2)
	hashLittle2(norm, &secondary, &primary)
	h := uint64(primary)<<32 | uint64(secondary)
	return h&Mask64(bits) | uint64(1)<<(bits-1)
}

// Mask64 returns the AND mask selecting the low bits of a hash.
func Mask64(bits uint32) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bits - 1
}

// PlainName strips any directory components from name.
func PlainName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '\\' || name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
