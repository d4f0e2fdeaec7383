package filetable

import (
	"bytes"
	"fmt"
)

type signature struct {
	offset int
	magic  []byte
	ext    string
}

// signatures are checked in order against the first bytes of an entry.
var signatures = []signature{
	{0, []byte("MZ"), "exe"},
	{8, []byte("WAVE"), "wav"},
	{8, []byte("AVI "), "avi"},
	{0, []byte("RIFF"), "riff"},
	{0, []byte("MPQ\x1A"), "mpq"},
	{0, []byte("MPQ\x1B"), "mpq"},
	{0, []byte("PK\x03\x04"), "zip"},
	{0, []byte("BIK"), "bik"},
	{0, []byte("SMK2"), "smk"},
	{0, []byte("SMK4"), "smk"},
	{0, []byte("\x1A\x45\xDF\xA3"), "webm"},
	{0, []byte("BLP1"), "blp"},
	{0, []byte("BLP2"), "blp"},
	{0, []byte("\x89PNG"), "png"},
	{0, []byte("GIF8"), "gif"},
	{0, []byte("\xFF\xD8\xFF"), "jpg"},
	{0, []byte("DDS "), "dds"},
	{0, []byte("BM"), "bmp"},
	{0, []byte("OTTO"), "otf"},
	{0, []byte("\x00\x01\x00\x00"), "ttf"},
	{0, []byte("MDLX"), "mdx"},
	{0, []byte("MD20"), "m2"},
	{0, []byte("OggS"), "ogg"},
	{0, []byte("ID3"), "mp3"},
	{0, []byte("<?xml"), "xml"},
}

// ExtensionFor guesses a file extension from the first bytes of content.
func ExtensionFor(head []byte) string {
	for _, s := range signatures {
		end := s.offset + len(s.magic)
		if len(head) >= end && bytes.Equal(head[s.offset:end], s.magic) {
			return s.ext
		}
	}
	return "xxx"
}

// PseudoName returns a deterministic placeholder name for an entry whose
// real name is unknown.
func PseudoName(ordinal int, head []byte) string {
	return fmt.Sprintf("File%08d.%s", ordinal, ExtensionFor(head))
}
