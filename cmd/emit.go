package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartsales365/pulse/internal/event"
)

var (
	emitType  string
	emitTitle string
	emitBody  string
	emitURL   string
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Create a notification on the dev backend",
	Long: `Creates a notification on a running ` + "`pulse serve`" + ` backend, which
broadcasts it to every connected client. Useful for exercising the
delivery pipeline end to end.`,
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

		e, err := client.Emit(ctx, event.Event{
			Kind:      event.ParseKind(emitType),
			Title:     emitTitle,
			Body:      emitBody,
			ActionURL: emitURL,
		})
		if err != nil {
			return err
		}
		fmt.Printf("emitted notification %d (%s)\n", e.ID, e.Kind.WireName())
		return nil
	},
}

func init() {
	emitCmd.Flags().StringVar(&emitType, "type", "sistema", "notification type (nueva_compra, nuevo_pago, stock_bajo, sistema, error)")
	emitCmd.Flags().StringVar(&emitTitle, "title", "", "notification title")
	emitCmd.Flags().StringVar(&emitBody, "body", "", "notification body")
	emitCmd.Flags().StringVar(&emitURL, "url", "", "deep link path")
	emitCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(emitCmd)
}
