package cli

import (
	"fmt"

	"barleybox/models"

	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Print the topic names derived from a device id",
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID := firstNonEmpty(append([]string{deviceFlag}, args...)...)
		if deviceID == "" {
			return fmt.Errorf("no device id (use --device)")
		}
		fmt.Println(headerStyle.Render("Device " + deviceID))
		fmt.Println(renderTable([]string{"Channel", "Topic", "Direction"}, topicRows(models.DeriveTopics(deviceID))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
