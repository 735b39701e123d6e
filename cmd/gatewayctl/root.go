package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "gateway.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "WhatsApp gateway: run the service or talk to a running one",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var conn clientConnection
	conn.AddFlags(root.PersistentFlags())

	root.AddCommand(
		serveCmd(),
		configCmd(),
		statusCmd(&conn),
		sendCmd(&conn),
		pairingCmd(&conn),
		logoutCmd(&conn),
	)
	return root
}
