// Package app assembles the modules that make up the bridge daemon.
package app

import (
	"context"
	"time"

	controller "github.com/idekit/bridge-lsp/src/bridge/controller/bridge"
	"github.com/idekit/bridge-lsp/src/bridge/controller/diagnostics"
	"github.com/idekit/bridge-lsp/src/bridge/controller/docsync"
	notifier "github.com/idekit/bridge-lsp/src/bridge/gateway/ideclient"
	handler "github.com/idekit/bridge-lsp/src/bridge/handler/bridge"
	"github.com/idekit/bridge-lsp/src/bridge/internal/core"
	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/idekit/bridge-lsp/src/bridge/internal/portalloc"
	"github.com/idekit/bridge-lsp/src/bridge/internal/serverinfofile"
	"github.com/idekit/bridge-lsp/src/bridge/internal/transport"
	"github.com/idekit/bridge-lsp/src/bridge/provider"
	"github.com/idekit/bridge-lsp/src/bridge/repository/session"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"
)

// Module defines the bridge daemon application module.
var Module = fx.Options(
	handler.Module, // inbounds
	controller.Module,
	docsync.Module,
	diagnostics.Module,
	provider.Module,
	transport.Module,
	portalloc.Module,
	fs.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(notifier.New),
	fx.Provide(session.New),
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "bridge-lsp",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	fx.Decorate(decorateEnvContext),
	fx.Decorate(decorateConfigProvider),
	fx.Provide(func() Context {
		return Context{
			Environment:        EnvLocal,
			RuntimeEnvironment: EnvLocal,
		}
	}),
)
