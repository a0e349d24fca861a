package serverinfofile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/idekit/bridge-lsp/src/bridge/internal/fs"
	segjson "github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/config"
	"go.uber.org/fx/fxtest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newInfoFile(t *testing.T, path string) ServerInfoFile {
	t.Helper()
	provider, err := config.NewStaticProvider(map[string]interface{}{
		_configKeyInfoFile: path,
	})
	require.NoError(t, err)

	lc := fxtest.NewLifecycle(t)
	m, err := New(Params{
		Config:    provider,
		Lifecycle: lc,
		Logger:    zap.NewNop().Sugar(),
		FS:        fs.New(),
	})
	require.NoError(t, err)
	return m
}

func TestUpdateField(t *testing.T) {
	t.Run("should persist fields as JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "info.json")
		m := newInfoFile(t, path)

		require.NoError(t, m.UpdateField("lsp-address", "127.0.0.1:2087"))
		require.NoError(t, m.UpdateField("socket", "/tmp/bridge.sock"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		contents := map[string]string{}
		require.NoError(t, segjson.Unmarshal(data, &contents))
		assert.Equal(t, "127.0.0.1:2087", contents["lsp-address"])
		assert.Equal(t, "/tmp/bridge.sock", contents["socket"])
	})

	t.Run("should overwrite an existing field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "info.json")
		m := newInfoFile(t, path)

		require.NoError(t, m.UpdateField("lsp-address", "127.0.0.1:2087"))
		require.NoError(t, m.UpdateField("lsp-address", "127.0.0.1:2088"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		contents := map[string]string{}
		require.NoError(t, segjson.Unmarshal(data, &contents))
		assert.Equal(t, "127.0.0.1:2088", contents["lsp-address"])
	})
}

func TestOnStop(t *testing.T) {
	t.Run("should remove the info file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "info.json")
		m := newInfoFile(t, path)
		require.NoError(t, m.UpdateField("lsp-address", "127.0.0.1:2087"))

		require.NoError(t, m.(*module).OnStop(context.Background()))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("should tolerate a missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "info.json")
		m := newInfoFile(t, path)
		assert.NoError(t, m.(*module).OnStop(context.Background()))
	})
}

func TestNew(t *testing.T) {
	t.Run("should fail without a configured path", func(t *testing.T) {
		provider, err := config.NewStaticProvider(map[string]interface{}{})
		require.NoError(t, err)

		_, err = New(Params{
			Config:    provider,
			Lifecycle: fxtest.NewLifecycle(t),
			Logger:    zap.NewNop().Sugar(),
			FS:        fs.New(),
		})
		assert.Error(t, err)
	})
}
