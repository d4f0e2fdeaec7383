package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/mpq"
)

type addFlags struct {
	as          string
	create      bool
	version     int
	maxFiles    uint32
	compression string
	encrypt     bool
	fixKey      bool
	sectorCRC   bool
	single      bool
	replace     bool
	locale      string
	patch       bool
}

func (c *cli) newAddCmd() *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add <archive> <file...>",
		Short: "Add files to an archive",
		Long: `Add stores local files in the archive. Relative paths keep their
directories, joined with backslashes; absolute paths keep only their base
name. Use --as to choose the name of a single file.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.as != "" && len(args) != 2 {
				return fmt.Errorf("--as needs exactly one file: %w", mpq.ErrNotSupported)
			}
			addOpts, err := f.options()
			if err != nil {
				return err
			}

			var a *mpq.Archive
			if _, statErr := os.Stat(args[0]); f.create && errors.Is(statErr, os.ErrNotExist) {
				a, err = c.create(args[0], mpq.WithFormatVersion(f.version), mpq.WithMaxFiles(f.maxFiles))
			} else {
				a, err = c.open(args[0], true)
			}
			if err != nil {
				return err
			}

			var errs []error
			for _, path := range args[1:] {
				name := f.as
				if name == "" {
					name = archiveName(path)
				}
				if err := addFile(a, path, name, addOpts); err != nil {
					errs = append(errs, err)
					continue
				}
				c.logger.Debug("file added", "path", path, "name", name)
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return errors.Join(append(errs, a.Close())...)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.as, "as", "", "archive name of the file")
	fl.BoolVar(&f.create, "create", false, "create the archive if it does not exist")
	fl.IntVar(&f.version, "format-version", 1, "format version of a created archive (1-4)")
	fl.Uint32Var(&f.maxFiles, "max-files", mpq.DefaultMaxFiles, "capacity of a created archive")
	fl.StringVar(&f.compression, "compression", "zlib", "sector codec: none, zlib, lzma or sparse")
	fl.BoolVar(&f.encrypt, "encrypt", false, "encrypt with a key derived from the name")
	fl.BoolVar(&f.fixKey, "fix-key", false, "bind the encryption key to the file position")
	fl.BoolVar(&f.sectorCRC, "sector-crc", false, "store a checksum per sector")
	fl.BoolVar(&f.single, "single-unit", false, "store the file as one block")
	fl.BoolVar(&f.replace, "replace", false, "replace a file with the same name")
	fl.StringVar(&f.locale, "file-locale", "", "locale of the stored files, e.g. 0x407")
	fl.BoolVar(&f.patch, "patch", false, "store the files as patch files")
	return cmd
}

func (f *addFlags) options() ([]mpq.AddOption, error) {
	comp, err := mpq.ParseCompression(f.compression)
	if err != nil {
		return nil, err
	}
	opts := []mpq.AddOption{
		mpq.AddWithCompression(comp),
		mpq.AddWithEncryption(f.encrypt),
		mpq.AddWithFixKey(f.fixKey),
		mpq.AddWithSectorCRC(f.sectorCRC),
		mpq.AddWithSingleUnit(f.single),
		mpq.AddWithReplace(f.replace),
	}
	if f.locale != "" {
		locale, err := strconv.ParseUint(f.locale, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("file locale %q: %w", f.locale, err)
		}
		opts = append(opts, mpq.AddWithLocale(uint16(locale)))
	}
	if f.patch {
		opts = append(opts, mpq.AddAsPatch())
	}
	return opts, nil
}

func addFile(a *mpq.Archive, path, name string, opts []mpq.AddOption) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-chosen input file
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		opts = append(opts, mpq.AddWithModTime(info.ModTime()))
	}
	return a.AddFile(name, data, opts...)
}

// archiveName converts a local path into an archive name.
func archiveName(path string) string {
	if !filepath.IsLocal(path) {
		return filepath.Base(path)
	}
	return strings.ReplaceAll(filepath.ToSlash(filepath.Clean(path)), "/", `\`)
}
