package crypt

import "encoding/binary"

// Well-known leading words used for content-based key recovery.
const (
	magicRIFF  = 0x46464952 // "RIFF"
	magicMZ    = 0x00905A4D // "MZ\x90\x00"
	magicXML0  = 0x6D783F3C // "<?xm"
	magicXML1  = 0x6576206C // "l ve"
	mzSecond   = 0x00000003
	minPairLen = 8
)

// searchKey tries all 256 low-byte candidates for the key that turns the
// first encrypted word into plain0, accepting the first candidate whose
// decrypted second word passes check.
func searchKey(enc []byte, plain0 uint32, check func(uint32) bool) (uint32, bool) {
	if len(enc) < minPairLen {
		return 0, false
	}
	t := cryptTable()
	enc0 := binary.LittleEndian.Uint32(enc[0:])
	enc1 := binary.LittleEndian.Uint32(enc[4:])
	sum := (enc0 ^ plain0) - keySeed2

	for i := uint32(0); i < 0x100; i++ {
		key1 := sum - t[uint32(purposeKeyMix)+i]
		key2 := uint32(keySeed2)
		key2 += t[uint32(purposeKeyMix)+(key1&0xFF)]
		if enc0^(key1+key2) != plain0 {
			continue
		}
		saved := key1
		key1 = next(key1)
		key2 = plain0 + key2 + (key2 << 5) + 3
		key2 += t[uint32(purposeKeyMix)+(key1&0xFF)]
		if check(enc1 ^ (key1 + key2)) {
			return saved, true
		}
	}
	return 0, false
}

// DetectSectorTableKey recovers the key of an encrypted sector offset table.
// The first offset of a table is always its own byte length (tableLen), and
// the second may not lie more than one sector past it.
//
// The returned key is the table key; the file key is one greater.
func DetectSectorTableKey(enc []byte, sectorSize, tableLen uint32) (uint32, bool) {
	limit := tableLen + sectorSize
	return searchKey(enc, tableLen, func(second uint32) bool {
		return second >= tableLen && second <= limit
	})
}

// DetectContentKey recovers a file key from the first encrypted sector by
// probing well-known file signatures. fileSize is the entry's uncompressed
// size, used for the RIFF chunk length.
func DetectContentKey(enc []byte, fileSize uint32) (uint32, bool) {
	if len(enc) >= 0x0C {
		want := fileSize - 8
		if key, ok := searchKey(enc, magicRIFF, func(v uint32) bool { return v == want }); ok {
			return key, true
		}
	}
	if len(enc) > 0x40 {
		if key, ok := searchKey(enc, magicMZ, func(v uint32) bool { return v == mzSecond }); ok {
			return key, true
		}
	}
	if len(enc) > 0x04 {
		if key, ok := searchKey(enc, magicXML0, func(v uint32) bool { return v == magicXML1 }); ok {
			return key, true
		}
	}
	return 0, false
}
