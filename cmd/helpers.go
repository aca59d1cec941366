package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/smartsales365/pulse/internal/api"
	"github.com/smartsales365/pulse/internal/config"
)

// devClient returns an authenticated api client. With no token configured it
// logs in with the dev backend credentials, which keeps the emit/history
// commands usable against `pulse serve` without an explicit login step.
func devClient(ctx context.Context, cfg *config.Config, log *zap.Logger) (*api.Client, error) {
	if cfg.Token != "" {
		return api.New(cfg.ServerURL, api.StaticToken(cfg.Token), log), nil
	}

	anon := api.New(cfg.ServerURL, api.StaticToken(""), log)
	tok, err := anon.Login(ctx, cfg.DevServer.Username, cfg.DevServer.Password)
	if err != nil {
		return nil, err
	}
	return api.New(cfg.ServerURL, api.StaticToken(tok), log), nil
}
