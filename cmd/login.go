package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartsales365/pulse/internal/api"
)

var (
	loginUser string
	loginPass string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a token from the backend",
	Long: `Exchanges credentials for a session token and prints it. Export the
token as PULSE_TOKEN for the other commands.`,
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

		user, pass := loginUser, loginPass
		if user == "" {
			user = cfg.DevServer.Username
		}
		if pass == "" {
			pass = cfg.DevServer.Password
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client := api.New(cfg.ServerURL, api.StaticToken(""), log)
		tok, err := client.Login(ctx, user, pass)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "username (defaults to dev_server.username)")
	loginCmd.Flags().StringVarP(&loginPass, "password", "p", "", "password (defaults to dev_server.password)")
	rootCmd.AddCommand(loginCmd)
}
