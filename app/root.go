package app

import (
	"github.com/spf13/cobra"

	"github.com/trufnetwork/claimgate/cmd/version"
)

// RootCmd creates the claimgate command tree.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claimgate",
		Short: "One-time claim authorization gate",
		Long: "claimgate admits a requester for exactly one token issuance when it presents\n" +
			"an attestation signed by the trusted authority for its address, the live\n" +
			"network and this deployment's contract identity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newClaimsCmd(),
		version.NewVersionCmd(),
	)

	return cmd
}
