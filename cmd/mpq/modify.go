package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <archive> <name...>",
		Short: "Remove files from an archive",
		Long: `Remove deletes the named files. Their space is reclaimed by compact.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0], true)
			if err != nil {
				return err
			}
			var errs []error
			for _, name := range args[1:] {
				if err := a.Remove(name); err != nil {
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return errors.Join(append(errs, a.Close())...)
		},
	}
}

func (c *cli) newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <archive>",
		Short: "Rewrite an archive without unused space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(args[0], true)
			if err != nil {
				return err
			}
			before := a.Info().ArchiveSize
			if err := a.Compact(cmd.Context()); err != nil {
				return errors.Join(err, a.Close())
			}
			after := a.Info().ArchiveSize
			fmt.Fprintf(cmd.OutOrStdout(), "%d -> %d bytes\n", before, after)
			return a.Close()
		},
	}
}
