package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyUnread bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the current notification history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := devClient(ctx, cfg, log)
		if err != nil {
			return err
		}

		page, err := client.History(ctx, historyUnread)
		if err != nil {
			return err
		}
		for _, e := range page.Events {
			marker := "*"
			if e.Read {
				marker = " "
			}
			fmt.Printf("%s %4d  %s  [%s] %s: %s\n",
				marker, e.ID, e.TimeLabel(), e.Kind.Display().Label, e.Title, e.Body)
		}
		fmt.Printf("%d notifications, %d unread\n", len(page.Events), page.UnreadCount)
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyUnread, "unread", false, "only unread notifications")
	rootCmd.AddCommand(historyCmd)
}
