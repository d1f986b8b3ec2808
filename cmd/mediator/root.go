// Command mediator runs the DIDComm mediator service: the DID-auth
// handshake endpoints, the message pickup/forwarding plane, and an
// ed25519 keypair generator for bootstrapping a deployment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediator",
		Short: "DIDComm mediator: DID-auth handshake + message pickup plane",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a yaml config file")
	root.AddCommand(newServeCommand())
	root.AddCommand(newGenKeyCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
