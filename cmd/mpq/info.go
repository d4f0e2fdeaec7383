package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <archive>",
		Short: "Show the archive header and index summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0], false)
			if err != nil {
				return err
			}
			defer a.Close()

			info := a.Info()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			rows := []struct {
				key string
				val any
			}{
				{"format version", info.FormatVersion},
				{"offset", fmt.Sprintf("%#x", info.Offset)},
				{"archive size", info.ArchiveSize},
				{"sector size", info.SectorSize},
				{"hash table", info.HashTableSize},
				{"block table", info.BlockTableSize},
				{"classic index", info.Classic},
				{"compact index", info.Compact},
				{"files", fmt.Sprintf("%d / %d", info.Files, info.MaxFiles)},
				{"listfile", info.Listfile},
				{"attributes", fmt.Sprintf("%#x", info.Attributes)},
				{"user data", info.UserData},
				{"malformed", info.Malformed},
				{"read-only", info.ReadOnly},
			}
			for _, r := range rows {
				fmt.Fprintf(tw, "%s:\t%v\n", r.key, r.val)
			}
			return tw.Flush()
		},
	}
}
