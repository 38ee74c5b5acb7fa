package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "uplink",
	Short: "Exercise data uplink client",
	Long: `Reads the latest exercise snapshot from the local store every interval and
sends it, with the route waypoints, to the server over a websocket connection.

Settings come from defaults, an optional YAML file and UPLINK_* environment
variables (for example UPLINK_SERVER_URL=ws://10.0.2.2:8090).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML config file")
}
