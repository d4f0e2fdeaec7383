// Package format defines the on-disk constants of the MPQ container and
// resolves the four generations of archive headers into one canonical form.
package format

// Signatures.
const (
	HeaderID      uint32 = 0x1A51504D // "MPQ\x1A"
	UserDataID    uint32 = 0x1B51504D // "MPQ\x1B"
	HetID         uint32 = 0x1A544548 // "HET\x1A"
	BetID         uint32 = 0x1A544542 // "BET\x1A"
	StrongSigID   uint32 = 0x5349474E // "NGIS"
	StrongSigSize        = 256
)

// Header sizes per format version.
const (
	HeaderSizeV1 = 0x20
	HeaderSizeV2 = 0x2C
	HeaderSizeV3 = 0x44
	HeaderSizeV4 = 0xD0

	UserDataHeaderSize = 0x10
)

// SearchAlign is the alignment at which archive headers are searched.
const SearchAlign = 0x200

// Classic table layout.
const (
	HashEntrySize    = 16
	BlockEntrySize   = 16
	HiBlockEntrySize = 2

	// HashFree marks a hash slot that was never used.
	HashFree uint32 = 0xFFFFFFFF
	// HashDeleted marks a tombstoned hash slot.
	HashDeleted uint32 = 0xFFFFFFFE
)

// Entry flags.
const (
	FlagImplode      uint32 = 0x00000100
	FlagCompress     uint32 = 0x00000200
	FlagEncrypted    uint32 = 0x00010000
	FlagFixKey       uint32 = 0x00020000
	FlagPatchFile    uint32 = 0x00100000
	FlagSingleUnit   uint32 = 0x01000000
	FlagDeleteMarker uint32 = 0x02000000
	FlagSectorCRC    uint32 = 0x04000000
	FlagSignature    uint32 = 0x10000000
	FlagExists       uint32 = 0x80000000

	// FlagCompressMask selects either compression flag.
	FlagCompressMask = FlagImplode | FlagCompress

	// FlagValidMask holds every flag bit a well-formed block record may carry.
	FlagValidMask uint32 = 0x97130300
)

// Reserved names.
const (
	ListfileName   = "(listfile)"
	AttributesName = "(attributes)"
	SignatureName  = "(signature)"
)

// Locale and platform of the language-neutral variant of a name.
const (
	LocaleNeutral   uint16 = 0
	PlatformNeutral uint8  = 0
)

// DefaultSectorSizeShift gives 4096-byte sectors.
const DefaultSectorSizeShift = 3
