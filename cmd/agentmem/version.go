package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run:   runVersionCmd,
}

func runVersionCmd(cmd *cobra.Command, args []string) {
	cmd.Printf("agentmem\n")
	cmd.Printf("Version:    %s\n", version)
	cmd.Printf("Commit:     %s\n", gitCommit)
	cmd.Printf("Build Date: %s\n", buildDate)
	cmd.Printf("Go Version: %s\n", runtime.Version())
}
