// Package shipconn turns a resolved config into an authenticated expose
// service. The CLI and the MCP server share it.
package shipconn

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmerrifield20/expose/internal/config"
	"github.com/jmerrifield20/expose/internal/metrics"
	"github.com/jmerrifield20/expose/pkg/client"
	"github.com/jmerrifield20/expose/pkg/expose"
)

// ClientOptions maps cfg onto client options.
func ClientOptions(cfg *config.Config, logger *zap.Logger) []client.Option {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithObserver(metrics.ObserveRequest),
		client.WithTimeout(cfg.Timeout),
		client.WithRateLimit(cfg.RateLimit, 1),
	}
	if cfg.Insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if cfg.ShipName != "" {
		opts = append(opts, client.WithShip(cfg.ShipName))
	}
	if cfg.Cookie != "" {
		opts = append(opts, client.WithCookie(cfg.Cookie))
	}
	return opts
}

// Open validates cfg, logs in with the access code when no cookie was given,
// and returns a service whose public URLs are rooted at the ship URL.
// forPoke additionally requires the ship to be identifiable.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, forPoke bool) (*expose.Service, error) {
	validate := cfg.Validate
	if forPoke {
		validate = cfg.ValidateForPoke
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c, err := client.New(cfg.ShipURL, ClientOptions(cfg, logger)...)
	if err != nil {
		return nil, err
	}
	if cfg.Cookie == "" && cfg.ShipCode != "" {
		if err := c.Login(ctx, cfg.ShipCode); err != nil {
			return nil, err
		}
	}
	return expose.New(c,
		expose.WithLogger(logger),
		expose.WithBaseURL(c.URL()),
		expose.WithChangeRecorder(metrics.RecordChange),
	), nil
}
