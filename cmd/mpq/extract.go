package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/mpq"
)

func (c *cli) newExtractCmd() *cobra.Command {
	var (
		dir  string
		jobs int
	)
	cmd := &cobra.Command{
		Use:   "extract <archive> [name...]",
		Short: "Extract files to a directory",
		Long: `Extract writes the named files, or every file when no name is given,
below the output directory. Backslashes in archive names become directory
separators.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			names := args[1:]
			if len(names) == 0 {
				names = entryNames(a.Entries())
			} else {
				jobs = 1
			}
			type result struct {
				dst string
				err error
			}
			results, err := forEach(cmd.Context(), names, jobs, func(name string) result {
				dst, err := extractPath(dir, name)
				if err == nil {
					err = extractFile(a, name, dst)
				}
				return result{dst, err}
			})
			if err != nil {
				return err
			}

			var errs []error
			for i, r := range results {
				if r.err != nil {
					errs = append(errs, r.err)
					continue
				}
				c.logger.Debug("file extracted", "name", names[i], "path", r.dst)
				fmt.Fprintln(cmd.OutOrStdout(), r.dst)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "output directory")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "files extracted in parallel")
	return cmd
}

// extractPath maps an archive name below dir, rejecting names that would
// escape it.
func extractPath(dir, name string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("extract %q: name leaves the output directory: %w", name, mpq.ErrNotSupported)
	}
	return filepath.Join(dir, rel), nil
}

func extractFile(a *mpq.Archive, name, dst string) error {
	f, err := a.OpenFile(name)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("extract %q: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644) //nolint:gosec // extracted files are not secret
}
