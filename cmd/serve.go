package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/devserver"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated notification backend",
	Long: `Starts a local stand-in for the SmartSales notification backend: token
login, notification history, read state, push subscription registration
and the admin websocket. Notifications are persisted in a local sqlite
database and can be created with ` + "`pulse emit`" + `.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.DevServer.Port = servePort
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		store, err := devserver.OpenStore(cfg.DevServer.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		srv := devserver.New(cfg.DevServer, store, log)
		defer srv.Close()

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.DevServer.Port),
			Handler: srv.Router(),
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() { errc <- httpSrv.ListenAndServe() }()
		fmt.Printf("dev backend listening on :%d (db=%s, user=%s)\n",
			cfg.DevServer.Port, cfg.DevServer.DBPath, cfg.DevServer.Username)

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
