package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDecorateEnvContext(t *testing.T) {
	t.Run("should default to the local environment", func(t *testing.T) {
		t.Setenv(_envBridgeEnvironment, "")
		env := decorateEnvContext(Context{})
		assert.Equal(t, EnvLocal, env.Environment)
		assert.Equal(t, EnvLocal, env.RuntimeEnvironment)
	})

	t.Run("should pick up the development environment", func(t *testing.T) {
		t.Setenv(_envBridgeEnvironment, EnvDevelopment)
		env := decorateEnvContext(Context{})
		assert.Equal(t, EnvDevelopment, env.Environment)
		assert.Equal(t, EnvDevelopment, env.RuntimeEnvironment)
	})
}

func TestDecorateConfigProvider(t *testing.T) {
	t.Run("should create the server info folder", func(t *testing.T) {
		infoFile := filepath.Join(t.TempDir(), "bridge", "server-info.json")
		cfg, err := config.NewStaticProvider(map[string]interface{}{
			"serverInfoFilePath": infoFile,
		})
		require.NoError(t, err)

		out, err := decorateConfigProvider(DecorateConfigParams{
			Env: Context{Environment: EnvLocal},
			Cfg: cfg,
			FS:  fs.New(),
		})
		require.NoError(t, err)
		assert.Equal(t, cfg, out)

		info, err := os.Stat(filepath.Dir(infoFile))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("should tolerate a missing info file path", func(t *testing.T) {
		cfg, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)

		out, err := decorateConfigProvider(DecorateConfigParams{
			Env: Context{Environment: EnvLocal},
			Cfg: cfg,
			FS:  fs.New(),
		})
		assert.NoError(t, err)
		assert.Equal(t, cfg, out)
	})
}
