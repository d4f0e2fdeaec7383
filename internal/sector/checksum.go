package sector

// adlerMod is the largest prime below 2^16.
const adlerMod = 65521

// checksum is Adler-32 started from zero rather than one, matching the
// values stored in sector checksum tables.
func checksum(p []byte) uint32 {
	var a, b uint32
	for len(p) > 0 {
		// 5552 is the largest n keeping b below 2^32 before reduction.
		n := min(len(p), 5552)
		for _, c := range p[:n] {
			a += uint32(c)
			b += a
		}
		a %= adlerMod
		b %= adlerMod
		p = p[n:]
	}
	return b<<16 | a
}

// checked reports whether a stored checksum should be verified. Zero and
// all-ones are written by tools that did not compute one.
func checked(stored uint32) bool {
	return stored != 0 && stored != 0xFFFFFFFF
}
