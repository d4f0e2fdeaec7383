package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/mpq"
)

func (c *cli) newListCmd() *cobra.Command {
	var long, named bool
	cmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "List the files in an archive",
		Long: `List prints one file per line. Files whose name is unknown are shown
with a placeholder such as File00000012.wav that the other commands accept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries := slices.Collect(a.Entries())
			if named {
				entries = slices.DeleteFunc(entries, func(e mpq.Entry) bool { return !e.Named })
			}
			out := cmd.OutOrStdout()
			if !long {
				for _, e := range entries {
					fmt.Fprintln(out, e.Name)
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "size\tstored\tflags\tlocale\t")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%04x\t %s\n", e.Size, e.CompressedSize, flagString(e.Flags), e.Locale, e.Name)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show sizes, flags and locale")
	cmd.Flags().BoolVar(&named, "named", false, "skip files whose name is unknown")
	return cmd
}

// flagString renders entry flags as a fixed-width letter mask.
func flagString(flags uint32) string {
	letters := []struct {
		flag uint32
		c    byte
	}{
		{mpq.FlagImplode, 'i'},
		{mpq.FlagCompress, 'c'},
		{mpq.FlagEncrypted, 'e'},
		{mpq.FlagFixKey, 'k'},
		{mpq.FlagPatchFile, 'p'},
		{mpq.FlagSingleUnit, 's'},
		{mpq.FlagSectorCRC, 'r'},
	}
	b := make([]byte, len(letters))
	for i, l := range letters {
		b[i] = '-'
		if flags&l.flag != 0 {
			b[i] = l.c
		}
	}
	return string(b)
}
