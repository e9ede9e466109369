package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Skips config loading so the version is printable with a broken config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "emotiondet %s (gocv %s, opencv %s, %s)\n", Version, gocv.Version(), gocv.OpenCVVersion(), runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
