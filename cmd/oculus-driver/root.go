package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	statusAddr string
	dataPort   int
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "oculus-driver",
	Short: "Oculus-family imaging sonar driver CLI",
	Long: `oculus-driver is a thin command-line wrapper over the driver library:
listen for a status beacon, connect to the sonar it announces, and drive
the fire/config request-response loop.

This binary exists for manual exercising and scripting against real or
simulated hardware; it carries no protocol logic of its own.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status-addr", "0.0.0.0:52102", "UDP address to listen for status beacons on")
	rootCmd.PersistentFlags().IntVar(&dataPort, "data-port", 52100, "TCP port to connect to on the announced sonar")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file overriding the above")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("oculus-driver: %v", err)
	}
}
