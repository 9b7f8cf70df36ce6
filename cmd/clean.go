package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/hlsmirror/internal/output"
	"github.com/tanq16/hlsmirror/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT]",
		Short: "Remove the temp files kept for an output path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := utils.Clean(tempDir, args[0]); err != nil {
				output.PrintError("Error cleaning up temporary files for " + absOrSame(args[0]))
				return
			}
			output.PrintSuccess("Temporary files cleaned up")
		},
	}
}
