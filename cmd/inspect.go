package cmd

import (
	"fmt"
	"os"

	"github.com/fennelnet/fennel/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Validate and print a topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := os.ReadFile(topologyPath)
		if err != nil {
			return err
		}
		var cfg state.TopologyCfg
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return err
		}
		if err := state.TopologyValidator(&cfg); err != nil {
			return err
		}
		for i := range cfg.Nodes {
			cfg.Nodes[i].ApplyDefaults()
		}
		out, err := yaml.Marshal(&cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
