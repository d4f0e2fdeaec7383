// Command mpq inspects and edits MPQ archives.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/meigma/mpq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the exit status. Failures are
// reported with the kind of error first so scripts can branch on it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "mpq: %s: %v\n", mpq.Kind(err), err)
		return 1
	}
	return 0
}

// cli holds state shared by all subcommands.
type cli struct {
	configPath string
	verbose    bool
	flags      overrides

	cfg    Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mpq",
		Short: "Inspect and edit MPQ archives",
		Long: `mpq reads, verifies and modifies MPQ archives.

Archives are local paths or http(s) URLs. Remote archives are read with
range requests and are read-only; set cache_dir to keep fetched blocks
on disk between runs.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "YAML config file (default $MPQ_CONFIG)")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log debug records to stderr")
	pf.StringVar(&c.flags.locale, "locale", "", "preferred locale, e.g. 0x409")
	pf.StringArrayVar(&c.flags.listfiles, "listfile", nil, "external name list (repeatable)")
	pf.StringVar(&c.flags.nameEncoding, "name-encoding", "", "code page of stored names, e.g. windows-1252")
	pf.BoolVar(&c.flags.noVerify, "no-verify", false, "skip sector checksums while reading")
	pf.StringVar(&c.flags.cacheDir, "cache-dir", "", "block cache directory for remote archives")
	pf.StringVar(&c.flags.passphrase, "passphrase", "", "passphrase of an encrypted container")

	root.AddCommand(
		c.newInfoCmd(),
		c.newListCmd(),
		c.newExtractCmd(),
		c.newAddCmd(),
		c.newRmCmd(),
		c.newVerifyCmd(),
		c.newCompactCmd(),
	)
	return root
}

// setup loads the config file, applies flag overrides and builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	path := c.configPath
	if path == "" {
		path = os.Getenv("MPQ_CONFIG")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	c.flags.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = *cfg

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}
