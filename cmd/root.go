// Command deepcounsel is the service entry point: the API server, a
// one-shot research command, and database migrations.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "deepcounsel",
		Short: "AI legal research service for Zimbabwean law",
	}

	root.AddCommand(serveCMD(), askCMD(), migrateCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
