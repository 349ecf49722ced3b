package subcmd

import (
	"github.com/spf13/cobra"
)

// NewCommand builds qcow2ctl's command tree.
func NewCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "qcow2ctl",
		Short:         "Inspect, create, and drive QCOW2 images through this module's engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newCreateCmd(),
		newInfoCmd(),
		newDDCmd(),
		newCheckCmd(),
		newInspectCmd(),
		newRecoverCmd(),
	)
	return root
}
