package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group defined in the cli package
// to the provided root command. Each module exposes its own root command
// (e.g. NetworkCmd) which aggregates all micro routes such as start and
// stop. Calling RegisterRoutes(root) makes all commands available from
// the main binary so they can be invoked like `synnergy network start`.
func RegisterRoutes(root *cobra.Command) {
	root.AddCommand(
		NetworkCmd,
		HostsCmd,
		PeerCmd,
		NatCmd,
	)

	root.AddCommand(
		NewFaultToleranceCommand(),
	)
}
