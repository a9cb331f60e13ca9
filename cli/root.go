package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Session flags, they win over the environment and the remembered session
	deviceFlag string
	brokerFlag string
	storeFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "barleybox",
	Short: "Barley box device console",
	Long: `barleybox - connect to a barley box controller over MQTT, watch its
telemetry and push control actions and configuration to it.

The device id and broker come from --device/--broker, then DEVICE_ID and
MQTT_BROKER, then the last session remembered in the configured store.

Examples:
  barleybox watch --device box1 --broker broker.hivemq.com
  barleybox control heater ON
  barleybox config set --heat-on 18 --feed-duration 4.5
  barleybox run`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Device id")
	rootCmd.PersistentFlags().StringVarP(&brokerFlag, "broker", "b", "", "Broker address (host, host:port or URL)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Session store backend (memory, sqlite, redis, firebase)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
