package main

import (
	"context"
	"time"

	"github.com/mcphub/hub/pkg/config"
	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/generation"
	"github.com/mcphub/hub/pkg/hub"
	"github.com/mcphub/hub/pkg/protocol"
	"github.com/mcphub/hub/pkg/supervisor"
)

// buildHubFactory adapts a *config.Config snapshot into a *hub.Hub: parsing
// the snapshot and mounting its configured upstreams is this package's
// concern, per generation.HubFactory's doc comment.
func buildHubFactory(resolve config.SecretResolver) generation.HubFactory {
	return func(ctx context.Context, snapshot any) (*hub.Hub, error) {
		cfg, ok := snapshot.(*config.Config)
		if !ok {
			return nil, errs.New(errs.KindConfig, "generation snapshot is not a *config.Config")
		}

		h := hub.New(newHubConfig(cfg))

		specs, err := cfg.ConnectorSpecs(resolve)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if err := h.Import(ctx, spec); err != nil {
				return nil, errs.Wrap(errs.KindConfig, err, "importing server "+spec.ServerID)
			}
		}
		return h, nil
	}
}

// newHubConfig translates the validated Config into hub.Config. Fields the
// config schema doesn't expose (collision policies, duplicate policy) are
// left at their zero value, which hub.Config.withDefaults fills in.
func newHubConfig(cfg *config.Config) hub.Config {
	return hub.Config{
		Implementation: protocol.Implementation{Name: "mcphubd", Version: version},
		Naming:         cfg.NamingConfig(),
		Timeouts:       cfg.RouterTimeouts(),
		Cache:          connector.NewOriginCache(),
		SupervisorDefaults: supervisor.Config{
			HealthInterval: msDuration(timeoutsOrNil(cfg).HealthCheckMs),
		},
	}
}

func timeoutsOrNil(cfg *config.Config) config.TimeoutsConfig {
	if cfg.Timeouts == nil {
		return config.TimeoutsConfig{}
	}
	return *cfg.Timeouts
}

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
