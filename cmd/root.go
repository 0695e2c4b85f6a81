// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Strix - passive RADIUS latency and loss analyzer",
	Long: `Strix passively captures RADIUS traffic, correlates requests with their
responses and reports per-code latency, retransmission and loss statistics
at a fixed interval.

Features:
  - Offline pcap replay and live capture (pcap or afpacket)
  - Request/response correlation with retransmit and identifier-reuse detection
  - Rolling per-code latency, retransmission and loss statistics
  - Console or collectd statistics output, optional pcap archive of matched traffic`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/strix/config.yml",
		"config file path")
}
