package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func (c *cli) newVerifyCmd() *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "verify <archive> [name...]",
		Short: "Check files against their stored checksums",
		Long: `Verify decodes the named files, or every file when no name is given,
checking sector checksums and the CRC32 and MD5 recorded in (attributes).`,
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
				// Names given on the command line may be recorded on lookup.
				jobs = 1
			}
			results, err := forEach(cmd.Context(), names, jobs, a.Verify)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var first error
			failed := 0
			for i, err := range results {
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", names[i], err)
					if first == nil {
						first = err
					}
					failed++
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", names[i])
			}
			if first != nil {
				return fmt.Errorf("%d of %d files failed: %w", failed, len(names), first)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "files verified in parallel")
	return cmd
}
