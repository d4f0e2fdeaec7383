// Package crypt implements the MPQ name hashes and the table/sector cipher.
//
// All functions share one immutable 0x500-entry substitution table that is
// generated on first use.
package crypt

import "sync"

// Purpose selects one of the five interleaved streams of the crypt table.
type Purpose uint32

// Hash purposes.
const (
	PurposeTableIndex Purpose = 0x000
	PurposeNameA      Purpose = 0x100
	PurposeNameB      Purpose = 0x200
	PurposeFileKey    Purpose = 0x300
	purposeKeyMix     Purpose = 0x400
)

const tableSize = 0x500

// cryptTable returns the process-wide substitution table. Racing first
// callers all observe the same fully built table.
var cryptTable = sync.OnceValue(func() *[tableSize]uint32 {
	var t [tableSize]uint32
	seed := uint32(0x00100001)
	for i := 0; i < 0x100; i++ {
		for j, idx := 0, i; j < 5; j, idx = j+1, idx+0x100 {
			seed = (seed*125 + 3) % 0x2AAAAB
			hi := (seed & 0xFFFF) << 0x10
			seed = (seed*125 + 3) % 0x2AAAAB
			lo := seed & 0xFFFF
			t[idx] = hi | lo
		}
	}
	return &t
})
