package cmd

import (
	"fmt"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture-capable network devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, d := range devs {
		if d.Description != "" {
			fmt.Printf("%s  (%s)\n", d.Name, d.Description)
		} else {
			fmt.Println(d.Name)
		}
		for _, addr := range d.Addresses {
			fmt.Printf("    %s\n", addr.IP)
		}
	}
	return nil
}
