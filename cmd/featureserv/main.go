// Command featureserv serves PostgreSQL/PostGIS tables as Esri
// FeatureServer/MapServer endpoints.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "featureserv",
		Short:        "Esri FeatureServer/MapServer emulator over PostGIS",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $CONFIG_FILE)")

	root.AddCommand(
		newServeCmd(&configPath),
		newInspectCmd(&configPath),
	)
	return root
}
