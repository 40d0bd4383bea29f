package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fennelnet/fennel/sim"
	"github.com/fennelnet/fennel/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a topology",
	Long: `Run every node of the topology in one process, joined by the in-memory
network. Send SIGINT or Ctrl+C to stop; the selected route tables are printed
on exit.`,
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

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		scaleMs, _ := cmd.Flags().GetInt("scale")

		net, err := sim.Build(&cfg, level)
		if err != nil {
			return err
		}
		net.WithScale(time.Duration(scaleMs) * time.Millisecond)

		fmt.Printf("running %d nodes, %d links, %d hosts; Ctrl+C to stop\n",
			len(cfg.Nodes), len(cfg.Links), len(cfg.Hosts))

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c

		for _, node := range cfg.Nodes {
			for _, host := range cfg.Hosts {
				entry, err := net.Route(node.Id, host.Id)
				if err != nil {
					continue
				}
				fmt.Printf("%s -> %s: distance %d via port %d\n",
					node.Id, host.Id, entry.Distance, entry.NextHop)
			}
		}
		net.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().Int("scale", 1, "Wall milliseconds per unit of link latency")
}
