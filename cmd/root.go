package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var topologyPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fennel",
	Short: "Fennel distance-vector routing engine",
	Long: `Fennel is a distance-vector routing engine with split-horizon and
poison-reverse advertisement policies, packaged with an in-memory network
simulator for exercising topologies.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "topology", "t", "topology.yaml", "network topology config")
}
