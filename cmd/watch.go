package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/session"
	"github.com/smartsales365/pulse/internal/sink"
	"github.com/smartsales365/pulse/internal/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream admin notifications to the terminal",
	Long: `Connects to the notification backend and prints every notification as it
arrives, preferring the realtime websocket and falling back to polling.
With notify enabled in the config, new notifications also raise OS
notifications.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Token == "" {
			return fmt.Errorf("no token configured; set PULSE_TOKEN or run `pulse login`")
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		var (
			s         *session.Session
			mu        sync.Mutex
			printed   = map[int64]bool{}
			lastState transport.State
		)
		onChange := func() {
			mu.Lock()
			defer mu.Unlock()
			if s == nil {
				return
			}
			if st := s.ConnectionState(); st != lastState {
				lastState = st
				fmt.Printf("-- connection: %s\n", st)
			}
			for _, e := range s.Toasts() {
				if printed[e.ID] {
					continue
				}
				printed[e.ID] = true
				d := e.Kind.Display()
				fmt.Printf("[%s] %s  %s: %s\n", d.Label, e.TimeLabel(), e.Title, e.Body)
				if e.ActionURL != "" {
					fmt.Printf("   %s%s\n", cfg.ServerURL, e.ActionURL)
				}
			}
		}

		opts := []session.Option{session.WithChangeFunc(onChange)}
		if cfg.Notify {
			opts = append(opts, session.WithNotifier(sink.NewDesktop(true, "")))
		}
		s = session.New(cfg, api.StaticToken(cfg.Token), log, opts...)

		if err := s.Start(); err != nil {
			return err
		}
		fmt.Printf("watching %s (ctrl-c to stop)\n", cfg.ServerURL)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		s.Close()
		if err := s.Err(); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
