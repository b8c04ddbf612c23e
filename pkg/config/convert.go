package config

import (
	"strings"
	"time"

	"github.com/mcphub/hub/pkg/connector"
	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/generation"
	"github.com/mcphub/hub/pkg/naming"
	"github.com/mcphub/hub/pkg/router"
	"github.com/mcphub/hub/pkg/secrets"
	"github.com/mcphub/hub/pkg/session"
)

// SecretResolver looks up a credential by its secrets-store key. Satisfied
// by (*secrets.Store).Get.
type SecretResolver func(key string) ([]byte, error)

// ConnectorSpecs converts every configured server into a connector.Spec,
// resolving remote auth credentials through resolve (never embedding a raw
// secret in the parsed Config itself).
func (c *Config) ConnectorSpecs(resolve SecretResolver) ([]connector.Spec, error) {
	specs := make([]connector.Spec, 0, len(c.Servers))
	for _, s := range c.Servers {
		spec, err := s.toConnectorSpec(resolve)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (s ServerSpec) toConnectorSpec(resolve SecretResolver) (connector.Spec, error) {
	spec := connector.Spec{ServerID: s.ID, AssumedProtocolVersion: s.AssumedProtocolVersion}

	switch s.Type {
	case ServerTypeLocal:
		spec.Local = &connector.LocalSpec{
			Command:      s.Command,
			Args:         s.Args,
			Env:          s.Env,
			Cwd:          s.Cwd,
			AutoRestart:  s.AutoRestart,
			MaxRestarts:  s.MaxRestarts,
			RestartDelay: msDuration(s.RestartDelayMs, 0),
		}
	case ServerTypeNpx:
		spec.Npx = &connector.NpxSpec{
			Package:      s.Package,
			Version:      s.Version,
			Args:         s.Args,
			Env:          s.Env,
			WorkDir:      s.WorkDir,
			InitTimeout:  msDuration(s.InitTimeoutMs, 0),
			AutoRestart:  s.AutoRestart,
			MaxRestarts:  s.MaxRestarts,
			RestartDelay: msDuration(s.RestartDelayMs, 0),
		}
	case ServerTypeRemote:
		remote := &connector.RemoteSpec{
			URL:       s.URL,
			Transport: connector.TransportKind(s.Transport),
			Headers:   s.Headers,
		}
		if remote.Transport == "" {
			remote.Transport = connector.TransportAuto
		}
		if s.HealthCheck != nil {
			remote.HealthCheckInterval = msDuration(s.HealthCheck.IntervalMs, 0)
			remote.HealthCheckTimeout = msDuration(s.HealthCheck.TimeoutMs, 0)
		}
		if s.Timeouts != nil {
			remote.ConnectTimeout = msDuration(s.Timeouts.ConnectMs, 0)
			remote.MaxReconnects = s.Timeouts.MaxReconnects
			remote.MaxReconnectDur = msDuration(s.Timeouts.MaxReconnectMs, 0)
		}
		if s.Auth != nil {
			auth, err := resolveAuth(*s.Auth, resolve)
			if err != nil {
				return connector.Spec{}, err
			}
			remote.Auth = auth
		}
		spec.Remote = remote
	default:
		return connector.Spec{}, errs.New(errs.KindConfig, "unknown server type for "+s.ID+": "+string(s.Type))
	}

	return spec, nil
}

func resolveAuth(a AuthSpec, resolve SecretResolver) (connector.Auth, error) {
	value, err := resolve(a.SecretKey)
	if err != nil {
		return connector.Auth{}, errs.Wrap(errs.KindConfig, err, "resolving auth secret "+a.SecretKey)
	}

	switch a.Kind {
	case AuthBearer:
		return connector.Auth{Kind: connector.AuthBearer, Token: string(value)}, nil
	case AuthBasic:
		username, password, ok := strings.Cut(string(value), ":")
		if !ok {
			return connector.Auth{}, errs.New(errs.KindConfig, "basic auth secret "+a.SecretKey+" must be username:password")
		}
		return connector.Auth{Kind: connector.AuthBasic, Username: username, Password: password}, nil
	default:
		return connector.Auth{}, errs.New(errs.KindConfig, "unknown auth kind: "+string(a.Kind))
	}
}

// ResolverFromStore adapts a *secrets.Store to SecretResolver.
func ResolverFromStore(store *secrets.Store) SecretResolver {
	return func(key string) ([]byte, error) { return store.Get(key) }
}

// NamingConfig converts the toolNaming section to naming.Config.
func (c *Config) NamingConfig() naming.Config {
	if c.ToolNaming == nil {
		return naming.Config{Strategy: naming.StrategyPrefix}
	}
	return naming.Config{
		Strategy:  naming.Strategy(c.ToolNaming.Strategy),
		Separator: c.ToolNaming.Separator,
		Aliases:   c.ToolNaming.Aliases,
	}
}

// SessionConfig converts the session section to session.Config.
func (c *Config) SessionStoreConfig() session.Config {
	if c.Session == nil {
		return session.Config{}
	}
	cfg := session.Config{}
	if c.Session.TTLSeconds > 0 {
		cfg.TTL = time.Duration(c.Session.TTLSeconds) * time.Second
	}
	return cfg
}

// RouterTimeouts converts the timeouts section to router.Timeouts.
func (c *Config) RouterTimeouts() router.Timeouts {
	if c.Timeouts == nil {
		return router.Timeouts{}
	}
	return router.Timeouts{
		ToolCall:        msDuration(c.Timeouts.ToolCallMs, 0),
		MaxTotal:        msDuration(c.Timeouts.MaxTotalMs, 0),
		ResetOnProgress: c.Timeouts.ResetOnProgress,
	}
}

// GenerationConfig converts the generation/rollover sections to
// generation.Config.
func (c *Config) RolloverConfig() generation.Config {
	cfg := generation.Config{}
	if c.Generation != nil {
		cfg.MaxGenerations = c.Generation.MaxGenerations
		cfg.GracePeriod = msDuration(c.Generation.GracePeriodMs, 0)
	}
	if c.Rollover != nil {
		cfg.HealthInterval = msDuration(c.Rollover.HealthCheckIntervalMs, 0)
		cfg.DrainTimeout = msDuration(c.Rollover.DrainTimeoutMs, 0)
		cfg.WarmupWindow = msDuration(c.Rollover.WarmupTimeMs, 0)
		if c.Rollover.ErrorRateThreshold > 0 {
			cfg.ErrorRateThreshold = c.Rollover.ErrorRateThreshold
		}
	}
	return cfg
}

// WatchPaths returns the configured generation.watchPaths, or nil if
// autoReload is disabled.
func (c *Config) WatchPaths() []string {
	if c.Generation == nil || !c.Generation.AutoReload {
		return nil
	}
	return c.Generation.WatchPaths
}
