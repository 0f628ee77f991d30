// Package main runs the identity REST server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-identity-sdk/cmd/identity-rest/startcmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use: "identity-rest",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(startcmd.GetStartCmd(&startcmd.HTTPServer{}))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
