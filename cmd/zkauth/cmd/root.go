package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zkauth",
	Short: "zkauth is a zero-knowledge password login service",
	Long: `Password login by Schnorr proof of knowledge over secp256k1.
The server stores only a public key and a salt per account; clients prove
they know the password without sending it.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
