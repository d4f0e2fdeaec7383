package crypt

import "encoding/binary"

const keySeed2 = 0xEEEEEEEE

// next advances the first key after one word.
func next(key1 uint32) uint32 {
	return ((^key1 << 0x15) + 0x11111111) | (key1 >> 0x0B)
}

// Encrypt encrypts buf in place as little-endian words. Trailing bytes that
// do not fill a whole word are left untouched.
func Encrypt(buf []byte, key uint32) {
	t := cryptTable()
	key2 := uint32(keySeed2)
	for off := 0; off+4 <= len(buf); off += 4 {
		plain := binary.LittleEndian.Uint32(buf[off:])
		key2 += t[uint32(purposeKeyMix)+(key&0xFF)]
		binary.LittleEndian.PutUint32(buf[off:], plain^(key+key2))
		key = next(key)
		key2 = plain + key2 + (key2 << 5) + 3
	}
}

// Decrypt decrypts buf in place as little-endian words. Trailing bytes that
// do not fill a whole word are left untouched.
func Decrypt(buf []byte, key uint32) {
	t := cryptTable()
	key2 := uint32(keySeed2)
	for off := 0; off+4 <= len(buf); off += 4 {
		key2 += t[uint32(purposeKeyMix)+(key&0xFF)]
		plain := binary.LittleEndian.Uint32(buf[off:]) ^ (key + key2)
		binary.LittleEndian.PutUint32(buf[off:], plain)
		key = next(key)
		key2 = plain + key2 + (key2 << 5) + 3
	}
}

// FileKey derives the base sector key of an entry. The key is computed from
// the plain file name; with fixKey it is additionally bound to the entry's
// archive-relative offset and uncompressed size.
func FileKey(name string, offset uint64, size uint32, fixKey bool) uint32 {
	key := Hash(PlainName(name), PurposeFileKey)
	if fixKey {
		key = (key + uint32(offset)) ^ size
	}
	return key
}
