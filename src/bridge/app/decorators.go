package app

import (
	"fmt"
	"os"
	"path"

	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"go.uber.org/config"
	"go.uber.org/fx"
)

// Context describes the environment the daemon is running in.
type Context struct {
	Environment        string `yaml:"environment"`
	RuntimeEnvironment string `yaml:"runtimeEnvironment"`
}

const (
	// EnvLocal indicates that the service is running locally.
	EnvLocal = "local"

	// EnvDevelopment indicates that the service is running in a development environment.
	EnvDevelopment = "development"

	// Environment variables
	_envBridgeEnvironment = "BRIDGE_ENVIRONMENT"
)

func decorateEnvContext(env Context) Context {
	envValue := EnvLocal
	if os.Getenv(_envBridgeEnvironment) == EnvDevelopment {
		envValue = EnvDevelopment
	}

	env.Environment = envValue
	env.RuntimeEnvironment = envValue
	return env
}

// DecorateConfigParams is the set of dependencies required to decorate the config.Provider.
type DecorateConfigParams struct {
	fx.In

	Env Context
	Cfg config.Provider
	FS  fs.BridgeFS
}

// decorateConfigProvider runs startup steps that depend on configured paths
// before the rest of the graph consumes the provider.
func decorateConfigProvider(p DecorateConfigParams) (config.Provider, error) {
	if err := ensureInfoFileFolder(p.Cfg, p.FS); err != nil {
		return nil, fmt.Errorf("ensuring server info folder: %v", err)
	}

	return p.Cfg, nil
}

// Ensure the directory holding the advertised server info file exists before
// the first endpoint is written to it.
func ensureInfoFileFolder(cfg config.Provider, bfs fs.BridgeFS) error {
	var infoFile string
	if err := cfg.Get("serverInfoFilePath").Populate(&infoFile); err != nil {
		return fmt.Errorf("loading server info path: %v", err)
	}
	if infoFile == "" {
		return nil
	}

	return bfs.MkdirAll(path.Dir(infoFile))
}
