package cli

import (
	"context"
	"fmt"
	"strings"

	"barleybox/models"

	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control <heater|mist|feed|mode> [action]",
	Short: "Send one control action to the device",
	Long: `Publish a raw control token on one actuator channel.

  heater  ON | OFF | AUTO
  mist    ON | OFF | AUTO
  feed    TRIGGER (default)
  mode    AUTO | MANUAL

Examples:
  barleybox control heater ON
  barleybox control feed`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"heater", "mist", "feed", "mode"},
	RunE:      runControl,
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Connection debugging tools",
}

var debugPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Publish a test message on the debug topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(func(ctx context.Context, a *app, feed logFeed) error {
			a.ctrl.TestPublish()
			return awaitPrefix(ctx, feed, "Test message published")
		})
	},
}

var debugResubscribeCmd = &cobra.Command{
	Use:   "resubscribe",
	Short: "Repeat the inbound subscriptions and print the session log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(func(ctx context.Context, a *app, feed logFeed) error {
			a.ctrl.Resubscribe()
			if err := awaitPrefix(ctx, feed, "Resubscribing"); err != nil {
				return err
			}
			a.printLogs()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugPingCmd)
	debugCmd.AddCommand(debugResubscribeCmd)
}

// parseControlArgs maps command arguments to a channel and action token
func parseControlArgs(args []string) (models.ControlChannel, string, error) {
	ch := models.ControlChannel(strings.ToLower(args[0]))
	known := false
	for _, c := range models.ControlChannels {
		if c == ch {
			known = true
			break
		}
	}
	if !known {
		return "", "", fmt.Errorf("unknown channel %q", args[0])
	}

	if len(args) == 1 {
		if ch != models.ControlFeed {
			return "", "", fmt.Errorf("channel %s needs an action", ch)
		}
		return ch, models.ActionTrigger, nil
	}
	return ch, strings.ToUpper(strings.TrimSpace(args[1])), nil
}

func runControl(cmd *cobra.Command, args []string) error {
	ch, action, err := parseControlArgs(args)
	if err != nil {
		return err
	}

	return oneShot(func(ctx context.Context, a *app, feed logFeed) error {
		if err := a.ctrl.SendControl(ch, action); err != nil {
			return err
		}
		if err := awaitPrefix(ctx, feed, "Sent "+string(ch)); err != nil {
			return err
		}
		fmt.Printf("Sent %s %s to %s\n", ch, action, a.deviceID)
		return nil
	})
}

func awaitPrefix(ctx context.Context, feed logFeed, prefix string) error {
	return feed.await(ctx, confirmTimeout, func(e models.LogEntry) bool {
		return e.Level != models.LogError && strings.HasPrefix(e.Message, prefix)
	})
}
