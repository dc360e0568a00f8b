// Command fobosrx controls a Fobos SDR receiver: it lists and inspects
// devices, records samples to a file, and serves the sample stream and a
// control API over the network.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv); err != nil {
		fmt.Fprintln(os.Stderr, "fobosrx:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookup lookupFunc) error {
	root := newRootCmd(lookup)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(lookup lookupFunc) *cobra.Command {
	cfg := &cliConfig{}
	root := &cobra.Command{
		Use:           "fobosrx",
		Short:         "Fobos SDR acquisition and control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindGlobalFlags(root, cfg, lookup)
	root.AddCommand(
		newListCmd(cfg),
		newInfoCmd(cfg),
		newGPOCmd(cfg),
		newCaptureCmd(cfg, lookup),
		newServeCmd(cfg, lookup),
		newDiscoverCmd(lookup),
	)
	return root
}
