// Package mpq reads and writes MPQ archives.
//
// An archive packs many named, optionally compressed and encrypted files
// into one randomly addressable stream. All four on-disk format versions
// are supported, located through either the classic hash/block tables or
// the compact HET/BET index.
//
// # Reading
//
// Open an archive and read a file:
//
//	a, err := mpq.Open("war3.mpq", mpq.WithReadOnly(true))
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	data, err := a.ReadFile(`units\human\footman.mdx`)
//
// Archive implements fs.FS, so names may also be given with forward
// slashes through fs.ReadFile and fs.Stat. Archives have no directory
// listing; use Entries or Names instead.
//
// # Streams
//
// OpenStream accepts any [stream.Stream]: local files, memory buffers,
// memory-mapped files, HTTP range sources, block-cached and encrypted
// wrappers can be layered freely.
//
// # Writing
//
// Create a new archive, add files and close it to write the tables:
//
//	a, err := mpq.Create("out.mpq", mpq.WithFormatVersion(2))
//	if err != nil {
//	    return err
//	}
//	err = a.AddFile(`data\readme.txt`, content, mpq.AddWithEncryption(true))
//	if err != nil {
//	    return err
//	}
//	return a.Close()
//
// # Patches
//
// Patch archives are layered over a base archive with AttachPatch. Reading
// a name then replays every patch for it in order.
package mpq
