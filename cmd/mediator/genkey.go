package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshcomm/didcomm-mediator/pkg/did"
)

func newGenKeyCommand() *cobra.Command {
	var keyType string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "generate a key pair for an authentication or agreement verification method",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch keyType {
			case "ed25519", "":
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return err
				}
				multikey, err := did.EncodeMultikey(pub)
				if err != nil {
					return err
				}
				fmt.Printf("public (multikey):  %s\n", multikey)
				fmt.Printf("private (base64):   %s\n", base64.StdEncoding.EncodeToString(priv.Seed()))
				return nil
			default:
				return fmt.Errorf("unsupported key type %q (want ed25519)", keyType)
			}
		},
	}
	cmd.Flags().StringVar(&keyType, "type", "ed25519", "key type to generate")
	return cmd
}
