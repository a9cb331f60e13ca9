package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"barleybox/codec"
	"barleybox/models"
	"barleybox/services"

	"github.com/spf13/cobra"
)

var (
	configJSON bool
	setForm    codec.ConfigForm
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or change the device configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Ask the device for its configuration and print it",
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Push configuration fields to the device",
	Long: `Push the given fields to the device. Values are in display units;
fields not given, blank or not numeric are left out of the push.

Example:
  barleybox config set --heat-on 18 --heat-off 22 --feed-duration 4.5 --feed-times 06:00,18:00`,
	RunE: runConfigSet,
}

var configCachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "Print the last configuration pushed from this console, without connecting",
	RunE:  runConfigCached,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configCachedCmd)

	configCmd.PersistentFlags().BoolVar(&configJSON, "json", false, "Print the form as JSON")
	for _, f := range formFields {
		configSetCmd.Flags().StringVar(f.ptr(&setForm), f.flag, "", fmt.Sprintf("%s (%s)", f.label, f.unit))
	}
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configs, obs := newConfigFeed()
	return oneShot(func(ctx context.Context, a *app, feed logFeed) error {
		// the session requests the config once the link settles
		cfg, err := awaitConfig(ctx, services.SettleDelay+confirmTimeout, configs, feed)
		if err != nil {
			return fmt.Errorf("device %s did not report its config: %w", a.deviceID, err)
		}
		return printConfig(a.deviceID, cfg)
	}, obs)
}

// newConfigFeed delivers the merged config of every config echo
func newConfigFeed() (chan models.DeviceConfig, services.Observer) {
	configs := make(chan models.DeviceConfig, 1)
	return configs, services.ObserverFuncs{
		OnConfig: func(_ string, cfg models.DeviceConfig) {
			select {
			case configs <- cfg:
			default:
			}
		},
	}
}

// awaitConfig waits for a config echo. An error entry on the log feed ends the wait.
func awaitConfig(ctx context.Context, timeout time.Duration, configs <-chan models.DeviceConfig, feed logFeed) (models.DeviceConfig, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.DeviceConfig{}, ctx.Err()
		case <-deadline.C:
			return models.DeviceConfig{}, fmt.Errorf("no config after %s", timeout)
		case cfg := <-configs:
			return cfg, nil
		case e := <-feed:
			if e.Level == models.LogError {
				return models.DeviceConfig{}, logEntryError(e)
			}
		}
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	patch := codec.ParseConfigForm(setForm)
	if codec.SanitizeConfig(patch).IsEmpty() {
		return fmt.Errorf("no valid config fields given")
	}

	return oneShot(func(ctx context.Context, a *app, feed logFeed) error {
		if err := a.ctrl.SendConfig(patch); err != nil {
			return err
		}
		if err := awaitPrefix(ctx, feed, "Config sent"); err != nil {
			return err
		}
		fmt.Printf("Config sent to %s\n", a.deviceID)
		return printConfig(a.deviceID, codec.SanitizeConfig(patch))
	})
}

func runConfigCached(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig("stderr")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sessions := services.NewSessionStore(store, logger)
	defer sessions.Close()

	deviceID := firstNonEmpty(deviceFlag, cfg.DeviceID)
	if deviceID == "" {
		if deviceID, _, err = sessions.LoadSession(ctx); err != nil {
			return err
		}
	}
	if deviceID == "" {
		return fmt.Errorf("no device id (use --device)")
	}

	deviceCfg, ok, err := sessions.LoadConfig(ctx, deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no cached config for %s", deviceID)
	}
	return printConfig(deviceID, deviceCfg)
}

func printConfig(deviceID string, cfg models.DeviceConfig) error {
	if configJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(codec.FormFromConfig(cfg))
	}
	fmt.Println(headerStyle.Render("Device " + deviceID))
	fmt.Println(renderTable([]string{"Setting", "Value", "Unit"}, configRows(cfg)))
	return nil
}
